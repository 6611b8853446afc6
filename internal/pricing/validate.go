package pricing

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	validator "github.com/go-playground/validator/v10"
)

// Issue is one catalog integrity problem.
type Issue struct {
	ProductID string `json:"productId"`
	Field     string `json:"field,omitempty"`
	Message   string `json:"message"`
}

// ValidationError collects every Issue found in a catalog.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "pricing: catalog valid"
	}
	if len(e.Issues) == 1 {
		return fmt.Sprintf("pricing: invalid catalog: %s", e.Issues[0].describe())
	}
	return fmt.Sprintf("pricing: invalid catalog: %s (and %d more)", e.Issues[0].describe(), len(e.Issues)-1)
}

func (i Issue) describe() string {
	if i.Field == "" {
		return fmt.Sprintf("%s: %s", i.ProductID, i.Message)
	}
	return fmt.Sprintf("%s.%s: %s", i.ProductID, i.Field, i.Message)
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks a catalog for the defects the engine tolerates at
// resolution time: field ranges, mode/matrix mismatches, duplicate and
// dangling identifiers, and composition cycles. It returns nil or a
// *ValidationError.
func Validate(products []Product) error {
	var issues []Issue
	seen := make(map[string]int, len(products))
	for _, p := range products {
		seen[p.ID]++
		if seen[p.ID] == 2 {
			issues = append(issues, Issue{ProductID: p.ID, Field: "id", Message: "duplicate identifier, last entry wins"})
		}
	}

	idx := NewIndex(products)
	for _, p := range products {
		issues = append(issues, checkProduct(idx, p)...)
	}
	issues = append(issues, findCycles(idx)...)

	if len(issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: issues}
}

func checkProduct(idx *Index, p Product) []Issue {
	var issues []Issue
	issues = append(issues, structIssues(p.ID, "", p)...)
	if p.Matrix == nil {
		return append(issues, Issue{ProductID: p.ID, Field: "priceMatrix", Message: "missing or unknown matrix type"})
	}
	if p.Matrix.Mode() != p.Mode {
		issues = append(issues, Issue{
			ProductID: p.ID,
			Field:     "priceMatrix.type",
			Message:   fmt.Sprintf("matrix type %q does not match selling mode %q", p.Matrix.Mode(), p.Mode),
		})
	}
	issues = append(issues, structIssues(p.ID, "priceMatrix", p.Matrix)...)
	if m, ok := p.Matrix.(WholeMatrix); ok && len(m.Sizes) == 0 {
		issues = append(issues, Issue{ProductID: p.ID, Field: "priceMatrix.sizes", Message: "no sizes declared, resolves to zero"})
	}
	for i, c := range p.Components() {
		if _, ok := idx.Lookup(c.ProductID); !ok {
			issues = append(issues, Issue{
				ProductID: p.ID,
				Field:     fmt.Sprintf("priceMatrix.components[%d]", i),
				Message:   fmt.Sprintf("unknown product %q", c.ProductID),
			})
		}
	}
	return issues
}

func structIssues(productID, prefix string, v any) []Issue {
	err := structValidator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []Issue{{ProductID: productID, Field: prefix, Message: err.Error()}}
	}
	issues := make([]Issue, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		// Drop the root struct name validator puts in front of the path.
		if dot := strings.IndexByte(field, '.'); dot >= 0 {
			field = field[dot+1:]
		}
		if prefix != "" {
			field = prefix + "." + field
		}
		msg := fmt.Sprintf("failed %q", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed %q (%s)", fe.Tag(), fe.Param())
		}
		issues = append(issues, Issue{ProductID: productID, Field: field, Message: msg})
	}
	return issues
}

// findCycles walks the composite graph depth first and reports each cycle
// once, keyed by its lowest-sorting member.
func findCycles(idx *Index) []Issue {
	const (
		unvisited = iota
		active
		done
	)
	state := make(map[string]int, idx.Len())
	reported := make(map[string]bool)
	var (
		issues []Issue
		stack  []string
		visit  func(id string)
	)
	visit = func(id string) {
		state[id] = active
		stack = append(stack, id)
		p, _ := idx.Lookup(id)
		var components []Component
		// A product whose matrix disagrees with its mode degrades instead of
		// resolving its components, so it cannot close a cycle.
		if p.Matrix != nil && p.Matrix.Mode() == p.Mode {
			components = p.Components()
		}
		for _, c := range components {
			if _, ok := idx.Lookup(c.ProductID); !ok {
				continue
			}
			switch state[c.ProductID] {
			case unvisited:
				visit(c.ProductID)
			case active:
				start := 0
				for i, s := range stack {
					if s == c.ProductID {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, stack[start:]...), c.ProductID)
				members := append([]string{}, stack[start:]...)
				sort.Strings(members)
				key := strings.Join(members, "|")
				if !reported[key] {
					reported[key] = true
					issues = append(issues, Issue{
						ProductID: c.ProductID,
						Field:     "priceMatrix.components",
						Message:   "cyclic composition: " + strings.Join(cycle, " -> "),
					})
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
	}
	for _, p := range idx.Products() {
		if state[p.ID] == unvisited {
			visit(p.ID)
		}
	}
	return issues
}
