// File: internal/actions/schema.go
// Description: Per-kind validation for action requests. Every rule runs
// before any side effect; a rejected request never reaches the execution
// backend.

package actions

import (
	"fmt"

	"github.com/nakurity/neurodesk/api/schemas"
)

// maxHotkeyKeys bounds composite key chords. Anything longer is a malformed
// request rather than a chord a human could press.
const maxHotkeyKeys = 5

// Pagination bounds for get_more_text.
const (
	maxPageLimit    = 100
	minRefreshItems = 5
	maxRefreshItems = 500
)

// detailLevels enumerates the refresh verbosity settings.
var detailLevels = map[string]bool{
	"minimal": true, "standard": true, "detailed": true, "full": true,
}

// filterTypes enumerates the element filters a pagination request accepts.
var filterTypes = map[string]bool{
	"all": true, "buttons": true, "links": true, "text": true, "inputs": true,
}

// actionSchema describes the shape a given kind must satisfy. localOnly
// kinds are answered by the perception pipeline and must never be
// dispatched to the execution backend.
type actionSchema struct {
	requiresTarget bool
	localOnly      bool
	validateParams func(params map[string]any) error
}

var actionSchemas = map[schemas.ActionKind]actionSchema{
	schemas.ActionClick: {
		requiresTarget: true,
		validateParams: func(p map[string]any) error {
			if err := optionalButton(p); err != nil {
				return err
			}
			if clicks, ok, err := optionalInt(p, "clicks"); err != nil {
				return err
			} else if ok && (clicks < 1 || clicks > 3) {
				return fmt.Errorf("clicks must be between 1 and 3, got %d", clicks)
			}
			return nil
		},
	},
	schemas.ActionMove: {
		requiresTarget: true,
		validateParams: func(p map[string]any) error {
			return optionalNonNegative(p, "duration")
		},
	},
	schemas.ActionDragTo: {
		requiresTarget: true,
		validateParams: func(p map[string]any) error {
			if err := optionalButton(p); err != nil {
				return err
			}
			return optionalNonNegative(p, "duration")
		},
	},
	schemas.ActionDragRel: {
		validateParams: func(p map[string]any) error {
			if _, ok, err := optionalInt(p, "dx"); err != nil {
				return err
			} else if !ok {
				return fmt.Errorf("dx is required")
			}
			if _, ok, err := optionalInt(p, "dy"); err != nil {
				return err
			} else if !ok {
				return fmt.Errorf("dy is required")
			}
			return optionalButton(p)
		},
	},
	schemas.ActionHotkey: {
		validateParams: func(p map[string]any) error {
			keys, err := requiredStringSlice(p, "keys")
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				return fmt.Errorf("keys must not be empty")
			}
			if len(keys) > maxHotkeyKeys {
				return fmt.Errorf("keys holds %d entries, at most %d allowed", len(keys), maxHotkeyKeys)
			}
			return nil
		},
	},
	schemas.ActionKeyDown: {validateParams: requiredKey},
	schemas.ActionKeyUp:   {validateParams: requiredKey},
	schemas.ActionPress:   {validateParams: requiredKey},
	schemas.ActionScreenshot: {
		validateParams: func(p map[string]any) error {
			// Region is optional; when present all four fields must be
			// non-negative integers.
			present := 0
			for _, field := range []string{"x", "y", "width", "height"} {
				v, ok, err := optionalInt(p, field)
				if err != nil {
					return err
				}
				if ok {
					present++
					if v < 0 {
						return fmt.Errorf("%s must be non-negative, got %d", field, v)
					}
				}
			}
			if present != 0 && present != 4 {
				return fmt.Errorf("region requires all of x, y, width, height")
			}
			return nil
		},
	},
	schemas.ActionContextRefresh: {
		localOnly: true,
		validateParams: func(p map[string]any) error {
			if raw, ok := p["detail_level"]; ok {
				s, isStr := raw.(string)
				if !isStr || !detailLevels[s] {
					return fmt.Errorf("detail_level %v is not one of minimal, standard, detailed, full", raw)
				}
			}
			for _, field := range []string{"include_ocr", "include_vision"} {
				if raw, ok := p[field]; ok {
					if _, isBool := raw.(bool); !isBool {
						return fmt.Errorf("%s must be a boolean, got %T", field, raw)
					}
				}
			}
			if n, ok, err := optionalInt(p, "max_items_per_category"); err != nil {
				return err
			} else if ok && (n < minRefreshItems || n > maxRefreshItems) {
				return fmt.Errorf("max_items_per_category must be between %d and %d, got %d", minRefreshItems, maxRefreshItems, n)
			}
			return nil
		},
	},
	schemas.ActionGetMoreText: {
		localOnly: true,
		validateParams: func(p map[string]any) error {
			if offset, ok, err := optionalInt(p, "offset"); err != nil {
				return err
			} else if ok && offset < 0 {
				return fmt.Errorf("offset must be non-negative, got %d", offset)
			}
			if limit, ok, err := optionalInt(p, "limit"); err != nil {
				return err
			} else if ok && (limit < 1 || limit > maxPageLimit) {
				return fmt.Errorf("limit must be between 1 and %d, got %d", maxPageLimit, limit)
			}
			if raw, ok := p["filter_type"]; ok {
				s, isStr := raw.(string)
				if !isStr || !filterTypes[s] {
					return fmt.Errorf("filter_type %v is not one of all, buttons, links, text, inputs", raw)
				}
			}
			return nil
		},
	},
}

// Validate checks a request against the schema for its kind without
// dispatching it. Callers that answer requests from local state use it to
// apply the same rules the coordinator applies.
func Validate(req schemas.ActionRequest) error {
	return validateRequest(req)
}

// validateRequest checks the request against the schema for its kind.
// Errors wrap ErrInvalidAction and name the request and the failing rule.
func validateRequest(req schemas.ActionRequest) error {
	schema, ok := actionSchemas[req.Kind]
	if !ok {
		return fmt.Errorf("%w: request %s has unknown kind %q", schemas.ErrInvalidAction, req.ID, req.Kind)
	}
	if schema.requiresTarget && req.Target == nil {
		return fmt.Errorf("%w: request %s (%s) requires target coordinates", schemas.ErrInvalidAction, req.ID, req.Kind)
	}
	if schema.validateParams != nil {
		if err := schema.validateParams(req.Params); err != nil {
			return fmt.Errorf("%w: request %s (%s): %v", schemas.ErrInvalidAction, req.ID, req.Kind, err)
		}
	}
	return nil
}

func requiredKey(p map[string]any) error {
	raw, ok := p["key"]
	if !ok {
		return fmt.Errorf("key is required")
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return fmt.Errorf("key must be a non-empty string")
	}
	return nil
}

func optionalButton(p map[string]any) error {
	raw, ok := p["button"]
	if !ok {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		return fmt.Errorf("button must be a string")
	}
	switch schemas.MouseButton(s) {
	case schemas.ButtonLeft, schemas.ButtonRight, schemas.ButtonMiddle:
		return nil
	}
	return fmt.Errorf("button %q is not one of left, right, middle", s)
}

// optionalInt reads an integral param. JSON decoding delivers numbers as
// float64, so both representations are accepted.
func optionalInt(p map[string]any, field string) (int, bool, error) {
	raw, ok := p[field]
	if !ok {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case int:
		return v, true, nil
	case float64:
		if v != float64(int(v)) {
			return 0, true, fmt.Errorf("%s must be an integer, got %v", field, v)
		}
		return int(v), true, nil
	default:
		return 0, true, fmt.Errorf("%s must be a number, got %T", field, raw)
	}
}

func optionalNonNegative(p map[string]any, field string) error {
	raw, ok := p[field]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case int:
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", field, v)
		}
	case float64:
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %v", field, v)
		}
	default:
		return fmt.Errorf("%s must be a number, got %T", field, raw)
	}
	return nil
}

func requiredStringSlice(p map[string]any, field string) ([]string, error) {
	raw, ok := p[field]
	if !ok {
		return nil, fmt.Errorf("%s is required", field)
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok || s == "" {
				return nil, fmt.Errorf("%s must hold non-empty strings", field)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be an array of strings, got %T", field, raw)
	}
}
