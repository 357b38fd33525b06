package schema

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-formflow/pkg/formstate"
)

func registrationSchema() FormSchema {
	return FormSchema{
		ID:    "annualReturns",
		Title: "Annual Returns",
		Steps: []Step{{ID: "company"}, {ID: "documents"}},
		Fields: []FieldSpec{
			{Key: "companyName", Kind: KindText, Required: true, Step: "company",
				Rules: []Rule{{Kind: RuleMinLength, Params: map[string]string{"value": "2"}}}},
			{Key: "registrationMethod", Kind: KindSingleChoice, Required: true, Step: "company",
				Options: []Option{{Value: "cipcNumber"}, {Value: "uploadDocument"}}},
			{Key: "cipcNumber", Kind: KindText, Required: true, Step: "company",
				VisibleWhen: `registrationMethod == "cipcNumber"`},
			{Key: "registrationDocument", Kind: KindFile, Required: true, Step: "documents",
				VisibleWhen: `registrationMethod == "uploadDocument"`,
				Rules:       []Rule{{Kind: RuleAccept, Params: map[string]string{"value": ".pdf,image/*"}}}},
		},
	}
}

func TestConditionalRequiredScenario(t *testing.T) {
	t.Parallel()

	compiled := MustCompile(registrationSchema())
	state := formstate.New(map[string]any{
		"companyName":        "Acme Trading",
		"registrationMethod": "cipcNumber",
		"cipcNumber":         "2019/123456/07",
	})
	if err := compiled.Validate(state); err != nil {
		t.Fatalf("Validate with cipcNumber: %v", err)
	}

	state = state.With("registrationMethod", "uploadDocument")
	err := compiled.Validate(state)
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	want := ValidationErrors{"registrationDocument": MessageRequired}
	if diff := cmp.Diff(want, verrs); diff != "" {
		t.Fatalf("errors mismatch (-want +got):\n%s", diff)
	}

	state = state.With("registrationDocument", formstate.FileFromBytes("cor14.pdf", "application/pdf", []byte("%PDF")))
	if err := compiled.Validate(state); err != nil {
		t.Fatalf("Validate with document: %v", err)
	}
}

func TestHiddenFieldsAreNeverRequired(t *testing.T) {
	t.Parallel()

	compiled := MustCompile(registrationSchema())
	states := []formstate.State{
		formstate.New(nil),
		formstate.New(map[string]any{"registrationMethod": "cipcNumber"}),
		formstate.New(map[string]any{"registrationMethod": "uploadDocument"}),
		formstate.New(map[string]any{"registrationMethod": "other"}),
	}
	for _, state := range states {
		visible := compiled.VisibleSet(state)
		err := compiled.Validate(state)
		var verrs ValidationErrors
		errors.As(err, &verrs)
		for key := range verrs {
			if !visible[key] {
				t.Fatalf("hidden field %q reported error %q", key, verrs[key])
			}
		}
	}
}

func TestHiddenParentHidesDependants(t *testing.T) {
	t.Parallel()

	compiled := MustCompile(FormSchema{
		ID: "nested",
		Fields: []FieldSpec{
			{Key: "hasDirectors", Kind: KindBoolean},
			{Key: "directorCount", Kind: KindNumber, VisibleWhen: "hasDirectors"},
			{Key: "directorNames", Kind: KindText, Required: true, VisibleWhen: "directorCount"},
		},
	})
	state := formstate.New(map[string]any{"hasDirectors": false, "directorCount": float64(2)})
	got := compiled.VisibleSet(state)
	want := map[string]bool{"hasDirectors": true, "directorCount": false, "directorNames": false}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("visibility mismatch (-want +got):\n%s", diff)
	}
	if err := compiled.Validate(state); err != nil {
		t.Fatalf("hidden chain should not validate: %v", err)
	}
}

func TestVisibilityReadsExtras(t *testing.T) {
	t.Parallel()

	compiled := MustCompile(FormSchema{
		ID: "vatRegistration",
		Fields: []FieldSpec{
			{Key: "companyName", Kind: KindText, Required: true},
			{Key: "payeReference", Kind: KindText, Required: true, VisibleWhen: `extras.products == "12"`},
		},
	})
	answers := formstate.New(map[string]any{"companyName": "Acme"})
	with := answers.WithExtras(map[string]any{"products": []string{"3", "12"}})
	without := answers.WithExtras(map[string]any{"products": []string{"3"}})

	if !compiled.Visible("payeReference", with) || compiled.Visible("payeReference", without) {
		t.Fatalf("payeReference visibility should follow the purchased products")
	}
	var verrs ValidationErrors
	if err := compiled.Validate(with); !errors.As(err, &verrs) || verrs["payeReference"] != MessageRequired {
		t.Fatalf("expected payeReference required, got %v", err)
	}
	if err := compiled.Validate(without); err != nil {
		t.Fatalf("hidden payeReference should not be validated: %v", err)
	}
}

func TestVisibilityDeterministic(t *testing.T) {
	t.Parallel()

	compiled := MustCompile(registrationSchema())
	state := formstate.New(map[string]any{"registrationMethod": "uploadDocument"})
	first := compiled.VisibleSet(state)
	for i := 0; i < 50; i++ {
		if diff := cmp.Diff(first, compiled.VisibleSet(state)); diff != "" {
			t.Fatalf("iteration %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestCompileRejectsInvalidSchemas(t *testing.T) {
	t.Parallel()

	base := func(fields ...FieldSpec) FormSchema {
		return FormSchema{ID: "bad", Fields: fields}
	}
	cases := []struct {
		name   string
		schema FormSchema
		want   string
	}{
		{"missing id", FormSchema{Fields: []FieldSpec{{Key: "a", Kind: KindText}}}, "id is required"},
		{"no fields", FormSchema{ID: "x"}, "at least one field"},
		{"duplicate key", base(FieldSpec{Key: "a", Kind: KindText}, FieldSpec{Key: "a", Kind: KindText}), "duplicate field key"},
		{"unknown kind", base(FieldSpec{Key: "a", Kind: "slider"}), "unknown kind"},
		{"choice without options", base(FieldSpec{Key: "a", Kind: KindSingleChoice}), "declares no options"},
		{"unknown step", base(FieldSpec{Key: "a", Kind: KindText, Step: "nope"}), "unknown step"},
		{"bad rule", base(FieldSpec{Key: "a", Kind: KindText, VisibleWhen: "b = 1"}), "visibleWhen"},
		{"unknown ref", base(FieldSpec{Key: "a", Kind: KindText, VisibleWhen: "ghost == 1"}), "unknown field"},
		{"self ref", base(FieldSpec{Key: "a", Kind: KindText, VisibleWhen: "a"}), "references itself"},
		{"cycle", base(
			FieldSpec{Key: "a", Kind: KindText, VisibleWhen: "b"},
			FieldSpec{Key: "b", Kind: KindText, VisibleWhen: "a"},
		), "visibility cycle"},
		{"unknown validator", base(FieldSpec{Key: "a", Kind: KindText,
			Rules: []Rule{{Kind: RuleCustom, Params: map[string]string{"name": "nope"}}}}), "unknown validator"},
		{"bad pattern", base(FieldSpec{Key: "a", Kind: KindText,
			Rules: []Rule{{Kind: RulePattern, Params: map[string]string{"pattern": "("}}}}), "rule pattern"},
		{"bad date bound", base(FieldSpec{Key: "a", Kind: KindDate,
			Rules: []Rule{{Kind: RuleMax, Params: map[string]string{"value": "tomorrow"}}}}), "YYYY-MM-DD"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Compile(tc.schema)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Compile error = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestCompileAllowsForwardReferences(t *testing.T) {
	t.Parallel()

	_, err := Compile(FormSchema{
		ID: "forward",
		Fields: []FieldSpec{
			{Key: "details", Kind: KindText, VisibleWhen: `entityType in ["pty", "npc"]`},
			{Key: "entityType", Kind: KindSingleChoice, Options: []Option{{Value: "pty"}, {Value: "npc"}, {Value: "cc"}}},
		},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
}

func TestRules(t *testing.T) {
	nowFunc = func() time.Time { return time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC) }
	compiled := MustCompile(FormSchema{
		ID: "rules",
		Fields: []FieldSpec{
			{Key: "email", Kind: KindText, Rules: []Rule{{Kind: RuleEmail}}},
			{Key: "employees", Kind: KindNumber, Rules: []Rule{
				{Kind: RuleMin, Params: map[string]string{"value": "1"}},
				{Kind: RuleMax, Params: map[string]string{"value": "500"}},
			}},
			{Key: "yearEnd", Kind: KindDate, Rules: []Rule{{Kind: RuleMax, Params: map[string]string{"value": "today"}}}},
			{Key: "idNumber", Kind: KindText, Rules: []Rule{{Kind: RuleCustom, Params: map[string]string{"name": "saIDNumber"}}}},
			{Key: "code", Kind: KindText, Rules: []Rule{{Kind: RulePattern,
				Params: map[string]string{"pattern": `^[A-Z]{3}$`, "message": "use three capitals"}}}},
			{Key: "taxTypes", Kind: KindMultiChoice,
				Options: []Option{{Value: "vat"}, {Value: "paye"}, {Value: "uif"}},
				Rules:   []Rule{{Kind: RuleMaxLength, Params: map[string]string{"value": "2"}}}},
			{Key: "proof", Kind: KindFile, Rules: []Rule{{Kind: RuleMaxSize, Params: map[string]string{"value": "4"}}}},
		},
	})

	bad := formstate.New(map[string]any{
		"email":     "not-an-email",
		"employees": float64(0),
		"yearEnd":   time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
		"idNumber":  "8001015009088",
		"code":      "abc",
		"taxTypes":  []string{"vat", "paye", "uif"},
		"proof":     formstate.FileFromBytes("proof.pdf", "", []byte("12345")),
	})
	err := compiled.Validate(bad)
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	want := ValidationErrors{
		"email":     "must be a valid email address",
		"employees": "must be at least 1",
		"yearEnd":   "must be on or before 2024-06-01",
		"idNumber":  "is not a valid ID number",
		"code":      "use three capitals",
		"taxTypes":  "select at most 2",
		"proof":     "proof.pdf exceeds 4 bytes",
	}
	if diff := cmp.Diff(want, verrs); diff != "" {
		t.Fatalf("errors mismatch (-want +got):\n%s", diff)
	}

	good := formstate.New(map[string]any{
		"email":     "owner@acme.co.za",
		"employees": float64(12),
		"yearEnd":   time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		"idNumber":  "8001015009087",
		"code":      "ABC",
		"taxTypes":  []string{"vat"},
		"proof":     formstate.FileFromBytes("proof.pdf", "", []byte("1234")),
	})
	if err := compiled.Validate(good); err != nil {
		t.Fatalf("Validate good: %v", err)
	}
}

func TestEveryPatternRuleRuns(t *testing.T) {
	t.Parallel()

	compiled := MustCompile(FormSchema{
		ID: "patterns",
		Fields: []FieldSpec{
			{Key: "code", Kind: KindText, Rules: []Rule{
				{Kind: RulePattern, Params: map[string]string{"pattern": `^[0-9]+$`, "message": "digits only"}},
				{Kind: RulePattern, Params: map[string]string{"pattern": `^.{3}$`, "message": "three characters"}},
			}},
		},
	})

	cases := []struct {
		value string
		want  string
	}{
		{"abc", "digits only"},
		{"1234", "three characters"},
		{"123", ""},
	}
	for _, tc := range cases {
		err := compiled.Validate(formstate.New(map[string]any{"code": tc.value}))
		got := ""
		var verrs ValidationErrors
		if errors.As(err, &verrs) {
			got = verrs["code"]
		} else if err != nil {
			t.Fatalf("Validate(%q): %v", tc.value, err)
		}
		if got != tc.want {
			t.Fatalf("Validate(%q) = %q, want %q", tc.value, got, tc.want)
		}
	}
}

func TestValidateStepAndField(t *testing.T) {
	t.Parallel()

	compiled := MustCompile(registrationSchema())
	state := formstate.New(map[string]any{"registrationMethod": "uploadDocument"})

	err := compiled.ValidateStep(0, state)
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	if diff := cmp.Diff([]string{"companyName"}, verrs.Keys()); diff != "" {
		t.Fatalf("step 0 keys mismatch (-want +got):\n%s", diff)
	}

	if err := compiled.ValidateField("cipcNumber", state); err != nil {
		t.Fatalf("hidden field should pass blur validation: %v", err)
	}
	if err := compiled.ValidateField("unknown", state); err != nil {
		t.Fatalf("unknown field: %v", err)
	}
	if err := compiled.ValidateField("registrationDocument", state); err == nil {
		t.Fatalf("expected required error on registrationDocument")
	}
	if got := compiled.StepFields(1); !cmp.Equal(got, []string{"registrationDocument"}) {
		t.Fatalf("StepFields(1) = %v", got)
	}
	if compiled.StepFields(5) != nil {
		t.Fatalf("out of range step should have no fields")
	}
}

func TestChoiceMembership(t *testing.T) {
	t.Parallel()

	compiled := MustCompile(registrationSchema())
	state := formstate.New(map[string]any{"companyName": "Acme", "registrationMethod": "fax"})
	err := compiled.ValidateField("registrationMethod", state)
	if err == nil || !strings.Contains(err.Error(), "listed options") {
		t.Fatalf("expected option membership error, got %v", err)
	}
}

func TestCoerce(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind FieldKind
		raw  string
		want any
	}{
		{KindText, "Acme", "Acme"},
		{KindText, "  ", nil},
		{KindNumber, "12.5", 12.5},
		{KindDate, "2024-02-29", time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{KindBoolean, "yes", true},
		{KindBoolean, "false", false},
		{KindMultiChoice, "vat, paye,", []string{"vat", "paye"}},
	}
	for _, tc := range cases {
		got, err := Coerce(tc.kind, tc.raw)
		if err != nil {
			t.Fatalf("Coerce(%s, %q): %v", tc.kind, tc.raw, err)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("Coerce(%s, %q) mismatch (-want +got):\n%s", tc.kind, tc.raw, diff)
		}
	}

	for _, bad := range []struct {
		kind FieldKind
		raw  string
	}{{KindNumber, "twelve"}, {KindDate, "29/02/2024"}, {KindBoolean, "maybe"}, {KindFile, "a.pdf"}} {
		if _, err := Coerce(bad.kind, bad.raw); err == nil {
			t.Fatalf("Coerce(%s, %q) expected error", bad.kind, bad.raw)
		}
	}
}

func TestValidatorRegistry(t *testing.T) {
	t.Parallel()

	reg := NewValidators()
	reg.Register("upper", func(value any) error {
		s, _ := value.(string)
		if strings.ToUpper(s) != s {
			return errors.New("must be upper case")
		}
		return nil
	})
	compiled := MustCompile(FormSchema{
		ID:     "custom",
		Fields: []FieldSpec{{Key: "ref", Kind: KindText, Rules: []Rule{{Kind: RuleCustom, Params: map[string]string{"name": "upper"}}}}},
	}, WithValidators(reg))

	err := compiled.Validate(formstate.New(map[string]any{"ref": "abc"}))
	if err == nil || !strings.Contains(err.Error(), "must be upper case") {
		t.Fatalf("expected custom validator error, got %v", err)
	}

	for _, name := range []string{"companyRegistrationNumber", "incomeTaxNumber", "saIDNumber", "upper", "vatNumber"} {
		if _, ok := reg.Lookup(name); !ok {
			t.Fatalf("validator %q not registered", name)
		}
	}
	vat, _ := reg.Lookup("vatNumber")
	if err := vat("4123456789"); err != nil {
		t.Fatalf("vatNumber: %v", err)
	}
	if err := vat("5123456789"); err == nil {
		t.Fatalf("vatNumber should reject leading 5")
	}
}
