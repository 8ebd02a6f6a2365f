package taskforge

import (
	"context"
	"testing"
)

func sampleTaskFunc(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{"echo": params["message"]}, nil
}

func TestTaskRegistryRegisterAndResolve(t *testing.T) {
	r := NewTaskRegistry()
	err := r.Register(TaskSpec{
		Name: "send_email",
		Func: sampleTaskFunc,
		Parameters: []Parameter{
			{Name: "message", Type: Str()},
			{Name: "recipient_email", Type: Str()},
			{Name: "context", Type: Unknown()},
		},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	desc, ok := r.Resolve("send_email")
	if !ok {
		t.Fatal("expected task to resolve")
	}
	if len(desc.Parameters) != 3 {
		t.Fatalf("expected 3 parameters, got %d", len(desc.Parameters))
	}

	for _, p := range desc.Parameters {
		switch p.Name {
		case "context":
			if !p.ExcludeFromUI {
				t.Error("expected context parameter to be excluded from UI")
			}
		case "recipient_email":
			if p.Control != ControlEmail {
				t.Errorf("expected email control, got %s", p.Control)
			}
		}
	}
}

func TestTaskRegistryDuplicateNameConflict(t *testing.T) {
	r := NewTaskRegistry()
	spec := TaskSpec{Name: "dup", Func: sampleTaskFunc}
	if err := r.Register(spec); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	err := r.Register(spec)
	if err == nil || !IsKind(err, KindConflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestTaskRegistryRequiresName(t *testing.T) {
	r := NewTaskRegistry()
	err := r.Register(TaskSpec{Func: sampleTaskFunc})
	if err == nil || !IsKind(err, KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTaskRegistryRejectsNilFunc(t *testing.T) {
	r := NewTaskRegistry()
	err := r.Register(TaskSpec{Name: "bad", Func: nil})
	if err == nil || !IsKind(err, KindValidation) {
		t.Fatalf("expected validation error for nil func, got %v", err)
	}
}

func TestTaskRegistryValidateParametersMissing(t *testing.T) {
	r := NewTaskRegistry()
	err := r.Register(TaskSpec{
		Name: "report",
		Func: sampleTaskFunc,
		Parameters: []Parameter{
			{Name: "report_id", Type: Str()},
			{Name: "verbose", Type: Bool(), Default: false, HasDefault: true},
		},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	err = r.ValidateParameters("report", map[string]interface{}{"verbose": true})
	if err == nil {
		t.Fatal("expected missing-parameter error")
	}
	var pve *ParameterValidationError
	if !asParamValidationErr(err, &pve) {
		t.Fatalf("expected *Error wrapping ParameterValidationError semantics, got %v", err)
	}
}

func asParamValidationErr(err error, target **ParameterValidationError) bool {
	te, ok := err.(*Error)
	if !ok {
		return false
	}
	return te.Kind == KindValidation && te.Details["task_type"] == "report"
}

func TestTaskRegistryValidateParametersAllowsUnknownKeys(t *testing.T) {
	r := NewTaskRegistry()
	_ = r.Register(TaskSpec{
		Name:       "flex",
		Func:       sampleTaskFunc,
		Parameters: []Parameter{{Name: "required_field", Type: Str()}},
	})

	err := r.ValidateParameters("flex", map[string]interface{}{
		"required_field": "x",
		"extra_unknown":  "y",
	})
	if err != nil {
		t.Fatalf("expected unknown keys to pass through untouched, got %v", err)
	}
}

func TestTaskRegistryListAll(t *testing.T) {
	r := NewTaskRegistry()
	_ = r.Register(TaskSpec{Name: "a", Func: sampleTaskFunc})
	_ = r.Register(TaskSpec{Name: "b", Func: sampleTaskFunc})

	all := r.ListAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(all))
	}
}

func TestTaskRegistryAutoDiscover(t *testing.T) {
	r := NewTaskRegistry()
	called := false
	err := r.AutoDiscover(func(reg *TaskRegistry) error {
		called = true
		return reg.Register(TaskSpec{Name: "discovered", Func: sampleTaskFunc})
	})
	if err != nil {
		t.Fatalf("AutoDiscover failed: %v", err)
	}
	if !called {
		t.Fatal("expected discoverer to run")
	}
	if _, ok := r.Resolve("discovered"); !ok {
		t.Fatal("expected discovered task to be registered")
	}
}
