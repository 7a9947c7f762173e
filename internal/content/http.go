package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/alinaqi/reachgenie"
	"github.com/alinaqi/reachgenie/internal/dao"
)

type Config struct {
	URL string
	Key string
}

func NewHTTPGenerator(cfg Config) Generator {
	return &httpGenerator{cfg: cfg, client: http.DefaultClient}
}

type httpGenerator struct {
	cfg    Config
	client *http.Client
}

type generateRequest struct {
	Kind     string   `json:"kind"` // email | call_script
	Strategy Strategy `json:"strategy"`

	Lead struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Company   string `json:"company"`
		Title     string `json:"title"`
	} `json:"lead"`

	Campaign struct {
		Name               string `json:"name"`
		CompanyName        string `json:"company_name"`
		ProductName        string `json:"product_name"`
		ProductDescription string `json:"product_description"`
	} `json:"campaign"`
}

func (g *httpGenerator) GenerateEmail(ctx context.Context, s Strategy, lead dao.Lead, campaign dao.Campaign) (reachgenie.EmailContent, error) {
	var out struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	err := g.generate(ctx, "email", s, lead, campaign, &out)
	if err != nil {
		return reachgenie.EmailContent{}, err
	}
	if out.Subject == "" || out.Body == "" {
		return reachgenie.EmailContent{}, fmt.Errorf("generator returned incomplete email content")
	}
	return reachgenie.EmailContent{Subject: out.Subject, HTML: out.Body}, nil
}

func (g *httpGenerator) GenerateCallScript(ctx context.Context, s Strategy, lead dao.Lead, campaign dao.Campaign) (string, error) {
	var out struct {
		Script string `json:"script"`
	}
	err := g.generate(ctx, "call_script", s, lead, campaign, &out)
	if err != nil {
		return "", err
	}
	if out.Script == "" {
		return "", fmt.Errorf("generator returned an empty script")
	}
	return out.Script, nil
}

func (g *httpGenerator) generate(ctx context.Context, kind string, s Strategy, lead dao.Lead, campaign dao.Campaign, out any) error {
	if g.cfg.URL == "" {
		return fmt.Errorf("no content generator url configured")
	}

	req := generateRequest{Kind: kind, Strategy: s}
	req.Lead.FirstName = lead.FirstName
	req.Lead.LastName = lead.LastName
	req.Lead.Company = lead.Company
	req.Lead.Title = lead.Title
	req.Campaign.Name = campaign.Name
	req.Campaign.CompanyName = campaign.CompanyName
	req.Campaign.ProductName = campaign.ProductName
	req.Campaign.ProductDescription = campaign.ProductDescription

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", g.cfg.URL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	httpReq.Header.Add("content-type", "application/json")
	if g.cfg.Key != "" {
		httpReq.Header.Add("authorization", "Bearer "+g.cfg.Key)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("generator responded with %d, %s", resp.StatusCode, strings.TrimSpace(string(respBytes)))
	}
	return json.Unmarshal(respBytes, out)
}
