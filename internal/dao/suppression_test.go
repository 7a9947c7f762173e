package dao

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSuppressionScoping(t *testing.T) {
	db := setup(t)
	now := time.Now().In(time.UTC)

	require.NoError(t, db.AddSuppression("Jane@Example.com", "t1", "unsubscribed", now))

	// normalized on write and on read
	suppressed, err := db.IsSuppressed("jane@example.com", "t1")
	require.NoError(t, err)
	require.True(t, suppressed)
	suppressed, err = db.IsSuppressed(" JANE@example.com ", "t1")
	require.NoError(t, err)
	require.True(t, suppressed)

	// scoped to the tenant
	suppressed, err = db.IsSuppressed("jane@example.com", "t2")
	require.NoError(t, err)
	require.False(t, suppressed)

	// a global entry blocks every tenant
	require.NoError(t, db.AddSuppression("+1 (555) 0100", "", "bounced", now))
	suppressed, err = db.IsSuppressed("+15550100", "t2")
	require.NoError(t, err)
	require.True(t, suppressed)

	// duplicates are fine
	require.NoError(t, db.AddSuppression("jane@example.com", "t1", "unsubscribed", now))
}

func TestAddSuppressionFlagsLeads(t *testing.T) {
	db := setup(t)
	now := time.Now().In(time.UTC)

	seedLead(t, db, Lead{ID: "lead-1", TenantID: "t1", Email: "jane@example.com"})
	seedLead(t, db, Lead{ID: "lead-2", TenantID: "t2", Email: "jane@example.com"})
	seedLead(t, db, Lead{ID: "lead-3", TenantID: "t1", Phone: "+1 555 0100"})

	require.NoError(t, db.AddSuppression("jane@example.com", "t1", "unsubscribed", now))

	lead, err := db.GetLead("lead-1")
	require.NoError(t, err)
	require.True(t, lead.DoNotContact)

	// the other tenant's lead is untouched by a tenant-scoped entry
	lead, err = db.GetLead("lead-2")
	require.NoError(t, err)
	require.False(t, lead.DoNotContact)

	// a global entry hits phone numbers across tenants
	require.NoError(t, db.AddSuppression("+15550100", "", "bounced", now))
	lead, err = db.GetLead("lead-3")
	require.NoError(t, err)
	require.True(t, lead.DoNotContact)
}
