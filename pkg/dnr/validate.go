package dnr

import (
	"errors"
	"fmt"
)

// ErrInvalidRule 规则不合法
var ErrInvalidRule = errors.New("invalid rule")

// Validate 校验单条规则
func (r Rule) Validate() error {
	if r.ID <= 0 {
		return fmt.Errorf("%w: id must be positive, got %d", ErrInvalidRule, r.ID)
	}
	if r.Priority < 0 {
		return fmt.Errorf("%w: rule %d: negative priority", ErrInvalidRule, r.ID)
	}
	c := r.Condition
	if c.URLFilter != "" && c.RegexFilter != "" {
		return fmt.Errorf("%w: rule %d: urlFilter and regexFilter are exclusive", ErrInvalidRule, r.ID)
	}

	switch r.Action.Type {
	case ActionBlock, ActionAllow, ActionUpgradeScheme:
	case ActionAllowAllRequests:
		if len(c.ResourceTypes) == 0 {
			return fmt.Errorf("%w: rule %d: allowAllRequests needs resourceTypes", ErrInvalidRule, r.ID)
		}
		for _, t := range c.ResourceTypes {
			if t != MainFrame && t != SubFrame {
				return fmt.Errorf("%w: rule %d: allowAllRequests only applies to frames, got %s", ErrInvalidRule, r.ID, t)
			}
		}
	case ActionRedirect:
		rd := r.Action.Redirect
		if rd == nil {
			return fmt.Errorf("%w: rule %d: redirect target missing", ErrInvalidRule, r.ID)
		}
		n := 0
		if rd.ExtensionPath != "" {
			n++
		}
		if rd.URL != "" {
			n++
		}
		if rd.Transform != nil {
			n++
		}
		if n != 1 {
			return fmt.Errorf("%w: rule %d: redirect needs exactly one of extensionPath, url, transform", ErrInvalidRule, r.ID)
		}
		if rd.ExtensionPath != "" && rd.ExtensionPath[0] != '/' {
			return fmt.Errorf("%w: rule %d: extensionPath must start with /", ErrInvalidRule, r.ID)
		}
	case ActionModifyHeaders:
		if len(r.Action.RequestHeaders) == 0 && len(r.Action.ResponseHeaders) == 0 {
			return fmt.Errorf("%w: rule %d: modifyHeaders without headers", ErrInvalidRule, r.ID)
		}
		for _, h := range append(append([]HeaderInfo{}, r.Action.RequestHeaders...), r.Action.ResponseHeaders...) {
			if err := h.validate(); err != nil {
				return fmt.Errorf("%w: rule %d: %v", ErrInvalidRule, r.ID, err)
			}
		}
	default:
		return fmt.Errorf("%w: rule %d: unknown action %q", ErrInvalidRule, r.ID, r.Action.Type)
	}
	return nil
}

func (h HeaderInfo) validate() error {
	if h.Header == "" {
		return errors.New("empty header name")
	}
	switch h.Operation {
	case HeaderSet, HeaderAppend:
		if h.Value == "" {
			return fmt.Errorf("header %s: %s needs a value", h.Header, h.Operation)
		}
	case HeaderRemove:
		if h.Value != "" {
			return fmt.Errorf("header %s: remove takes no value", h.Header)
		}
	default:
		return fmt.Errorf("header %s: unknown operation %q", h.Header, h.Operation)
	}
	return nil
}

// ValidateBatch 校验一批规则，包括批内 ID 唯一
func ValidateBatch(rules []Rule) error {
	seen := make(map[int]struct{}, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: duplicate id %d", ErrInvalidRule, r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}
