package skills

import (
	"context"
	"testing"

	"github.com/haasonsaas/relay/pkg/models"
)

func TestMemoryRegistryActivation(t *testing.T) {
	ctx := context.Background()

	t.Run("activation records predecessor", func(t *testing.T) {
		registry := NewMemoryRegistry()
		registry.AddSkill(&Skill{ID: "coder", Name: "Coder", Content: "be a coder"})
		registry.AddSkill(&Skill{ID: "writer", Name: "Writer", Content: "be a writer"})

		first, err := registry.Activate(ctx, "conv-1", &Skill{ID: "coder", Name: "Coder"}, models.TriggerManual)
		if err != nil {
			t.Fatalf("activate: %v", err)
		}
		if first.PreviousSkillID != "" {
			t.Errorf("first activation previous = %q, want empty", first.PreviousSkillID)
		}

		second, err := registry.Activate(ctx, "conv-1", &Skill{ID: "writer", Name: "Writer"}, models.TriggerAuto)
		if err != nil {
			t.Fatalf("activate: %v", err)
		}
		if second.PreviousSkillID != "coder" {
			t.Errorf("second activation previous = %q, want coder", second.PreviousSkillID)
		}
		if second.Trigger != models.TriggerAuto {
			t.Errorf("trigger = %q, want auto", second.Trigger)
		}
	})

	t.Run("deactivate clears active skill", func(t *testing.T) {
		registry := NewMemoryRegistry()
		if _, err := registry.Activate(ctx, "conv-1", &Skill{ID: "coder"}, models.TriggerManual); err != nil {
			t.Fatalf("activate: %v", err)
		}
		if err := registry.Deactivate(ctx, "conv-1"); err != nil {
			t.Fatalf("deactivate: %v", err)
		}
		active, err := registry.Active(ctx, "conv-1")
		if err != nil {
			t.Fatalf("active: %v", err)
		}
		if active != nil {
			t.Error("expected no active skill after deactivation")
		}
	})
}

func TestMemoryRegistryAssignments(t *testing.T) {
	ctx := context.Background()
	registry := NewMemoryRegistry()
	registry.AddSkill(&Skill{ID: "b", Name: "B", Position: 2})
	registry.AddSkill(&Skill{ID: "a", Name: "A", Position: 1})
	registry.Assign("user-1", "b", false)
	registry.Assign("user-1", "a", true)

	t.Run("assigned ordered by position", func(t *testing.T) {
		assigned, err := registry.Assigned(ctx, "user-1")
		if err != nil {
			t.Fatalf("assigned: %v", err)
		}
		if len(assigned) != 2 || assigned[0].ID != "a" || assigned[1].ID != "b" {
			t.Errorf("unexpected order: %+v", assigned)
		}
	})

	t.Run("default resolves", func(t *testing.T) {
		def, err := registry.Default(ctx, "user-1")
		if err != nil {
			t.Fatalf("default: %v", err)
		}
		if def == nil || def.ID != "a" {
			t.Errorf("default = %+v, want skill a", def)
		}
	})

	t.Run("no default for unknown user", func(t *testing.T) {
		def, err := registry.Default(ctx, "nobody")
		if err != nil {
			t.Fatalf("default: %v", err)
		}
		if def != nil {
			t.Errorf("default = %+v, want nil", def)
		}
	})
}

func TestMemoryRegistryUsage(t *testing.T) {
	ctx := context.Background()
	registry := NewMemoryRegistry()

	if err := registry.RecordUsage(ctx, "coder", Usage{Success: true, Tokens: 120, ToolCalls: 2}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := registry.RecordUsage(ctx, "coder", Usage{Success: false, Tokens: 30}); err != nil {
		t.Fatalf("record: %v", err)
	}

	record := registry.UsageFor("coder")
	if record == nil {
		t.Fatal("expected usage record")
	}
	if record.Requests != 2 || record.Successes != 1 {
		t.Errorf("requests/successes = %d/%d, want 2/1", record.Requests, record.Successes)
	}
	if record.TotalTokens != 150 {
		t.Errorf("tokens = %d, want 150", record.TotalTokens)
	}
	if record.ToolCalls != 2 {
		t.Errorf("tool calls = %d, want 2", record.ToolCalls)
	}
}
