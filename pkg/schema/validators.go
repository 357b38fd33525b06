package schema

import (
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ValidatorFunc checks a raw answer. It only runs for visible, non-empty
// answers, so implementations need not handle "missing".
type ValidatorFunc func(value any) error

// Validators is a named registry referenced by `custom` rules so schema
// documents can stay pure data.
type Validators struct {
	mu    sync.RWMutex
	funcs map[string]ValidatorFunc
}

// NewValidators returns a registry holding the built-in validators.
func NewValidators() *Validators {
	reg := &Validators{funcs: make(map[string]ValidatorFunc)}
	reg.registerBuiltins()
	return reg
}

var (
	defaultValidatorsOnce sync.Once
	defaultValidators     *Validators
)

// DefaultValidators returns the process-wide registry used by Compile.
func DefaultValidators() *Validators {
	defaultValidatorsOnce.Do(func() {
		defaultValidators = NewValidators()
	})
	return defaultValidators
}

// Register adds or replaces a validator. Blank names and nil funcs are ignored.
func (v *Validators) Register(name string, fn ValidatorFunc) {
	name = strings.TrimSpace(name)
	if v == nil || name == "" || fn == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.funcs == nil {
		v.funcs = make(map[string]ValidatorFunc)
	}
	v.funcs[name] = fn
}

// Lookup returns the validator registered under name.
func (v *Validators) Lookup(name string) (ValidatorFunc, bool) {
	if v == nil {
		return nil, false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	fn, ok := v.funcs[name]
	return fn, ok
}

// Names lists the registered validators.
func (v *Validators) Names() []string {
	if v == nil {
		return nil
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	names := make([]string, 0, len(v.funcs))
	for name := range v.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	companyRegPattern = regexp.MustCompile(`^(19|20)\d{2}/\d{6}/\d{2}$`)
	vatNumberPattern  = regexp.MustCompile(`^4\d{9}$`)
	incomeTaxPattern  = regexp.MustCompile(`^[0-39]\d{9}$`)
)

func (v *Validators) registerBuiltins() {
	v.Register("saIDNumber", func(value any) error {
		digits := digitsOnly(value)
		if len(digits) != 13 {
			return errors.New("must be a 13 digit ID number")
		}
		if !luhnValid(digits) {
			return errors.New("is not a valid ID number")
		}
		return nil
	})
	v.Register("companyRegistrationNumber", func(value any) error {
		if !companyRegPattern.MatchString(strings.TrimSpace(stringValue(value))) {
			return errors.New("must look like 2019/123456/07")
		}
		return nil
	})
	v.Register("vatNumber", func(value any) error {
		if !vatNumberPattern.MatchString(strings.TrimSpace(stringValue(value))) {
			return errors.New("must be a 10 digit VAT number starting with 4")
		}
		return nil
	})
	v.Register("incomeTaxNumber", func(value any) error {
		if !incomeTaxPattern.MatchString(strings.TrimSpace(stringValue(value))) {
			return errors.New("must be a 10 digit income tax reference")
		}
		return nil
	})
}

func stringValue(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	}
	return ""
}

func digitsOnly(value any) string {
	var b strings.Builder
	for _, r := range stringValue(value) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r != ' ' {
			return ""
		}
	}
	return b.String()
}

func luhnValid(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
