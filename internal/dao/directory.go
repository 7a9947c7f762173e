package dao

import (
	"database/sql"
	"errors"

	"github.com/alinaqi/reachgenie/tools"
)

func (s *sqlite) GetLead(id string) (*Lead, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var lead Lead
	err = db.Get(&lead, `SELECT * FROM lead WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

func (s *sqlite) CreateLead(lead Lead) error {
	lead.Email = tools.NormalizeAddress(lead.Email)
	lead.Phone = tools.NormalizeAddress(lead.Phone)

	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.NamedExec(`
	    INSERT INTO lead (id, tenant_id, email, phone, first_name, last_name, company, title, do_not_contact)
	    VALUES (:id, :tenant_id, :email, :phone, :first_name, :last_name, :company, :title, :do_not_contact)
	`, lead)
	return err
}

func (s *sqlite) GetCampaign(id string) (*Campaign, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var c Campaign
	err = db.Get(&c, `SELECT * FROM campaign WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *sqlite) CreateCampaign(c Campaign) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.NamedExec(`
	    INSERT INTO campaign (id, tenant_id, name, number_of_reminders, days_between_reminders,
	                          product_name, product_description, company_name)
	    VALUES (:id, :tenant_id, :name, :number_of_reminders, :days_between_reminders,
	            :product_name, :product_description, :company_name)
	`, c)
	return err
}

func (s *sqlite) GetApiKey(key string) (*APIKey, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	var apiKey APIKey
	err = db.Get(&apiKey, `SELECT * FROM api_key WHERE api_key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &apiKey, nil
}

func (s *sqlite) AddApiKey(key APIKey) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.NamedExec(`
	    INSERT INTO api_key (api_key, tenant_id)
	    VALUES (:api_key, :tenant_id)
	    ON CONFLICT (api_key) DO UPDATE SET tenant_id = excluded.tenant_id
	`, key)
	return err
}
