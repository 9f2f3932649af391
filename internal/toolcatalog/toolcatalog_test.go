package toolcatalog

import (
	"testing"

	"github.com/nexusagents/orchestrator/pkg/models"
)

func TestBuildAgentToolSchemaRequiredFields(t *testing.T) {
	spec := models.AgentSpec{
		Name: "book_restaurant",
		InputFields: []models.InputField{
			{Name: "party_size", Type: models.FieldInt, Required: true},
			{Name: "notes", Type: models.FieldString, Required: false},
		},
	}

	raw := BuildAgentToolSchema(spec)
	if len(raw) == 0 {
		t.Fatal("expected non-empty schema")
	}
	if !contains(string(raw), `"party_size"`) || !contains(string(raw), `"notes"`) {
		t.Fatalf("expected both fields present, got %s", raw)
	}
	if !contains(string(raw), `"required":["party_size"]`) {
		t.Fatalf("expected only party_size required, got %s", raw)
	}
}

func TestSchemaVersionStableAcrossDescriptionChanges(t *testing.T) {
	a := []models.InputField{{Name: "x", Type: models.FieldString, Required: true, Description: "first"}}
	b := []models.InputField{{Name: "x", Type: models.FieldString, Required: true, Description: "second"}}
	if SchemaVersion(a) != SchemaVersion(b) {
		t.Fatal("expected schema version to ignore description changes")
	}
}

func TestSchemaVersionChangesWithRequired(t *testing.T) {
	a := []models.InputField{{Name: "x", Type: models.FieldString, Required: true}}
	b := []models.InputField{{Name: "x", Type: models.FieldString, Required: false}}
	if SchemaVersion(a) == SchemaVersion(b) {
		t.Fatal("expected schema version to change when required flag changes")
	}
}

func TestPolicyFilterOrder(t *testing.T) {
	p := NewPolicyFilter(nil)
	p.SetGlobalDeny([]string{"dangerous_tool"})
	p.SetAgentPolicy("email_agent", nil, []string{"send_sms"})

	if p.IsToolAllowed("dangerous_tool", "email_agent") {
		t.Fatal("expected global deny to block regardless of agent policy")
	}
	if p.IsToolAllowed("send_sms", "email_agent") {
		t.Fatal("expected agent-level deny to block")
	}
	if !p.IsToolAllowed("send_email", "email_agent") {
		t.Fatal("expected unrestricted tool to be allowed")
	}
}

func TestPolicyFilterGlobalAllowlist(t *testing.T) {
	p := NewPolicyFilter(nil)
	p.SetGlobalAllow([]string{"safe_tool"})
	if p.IsToolAllowed("other_tool", "") {
		t.Fatal("expected tool outside global allow list to be blocked")
	}
	if !p.IsToolAllowed("safe_tool", "") {
		t.Fatal("expected tool in global allow list to be permitted")
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
