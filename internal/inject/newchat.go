package inject

import (
	"context"
	"fmt"

	"chatcast/internal/bus"
	"chatcast/internal/dom"
	"chatcast/internal/domain"
	"chatcast/internal/profile"
	"chatcast/internal/resolve"
)

// NewConversation clicks the "new chat" control found in doc, or navigates
// to the profile's fresh conversation URL when there is none. doc is the
// page's current snapshot. It is tried once.
func NewConversation(ctx context.Context, page domain.Page, doc *dom.Document, p *profile.Profile, d Diag) error {
	res, rerr := resolve.Resolve(doc, resolve.RoleNewConversation, p, nil)
	if rerr == nil {
		rerr = page.Dispatch(ctx, res.El.Ref, clickSequence...)
		if rerr == nil {
			d.report(bus.EventConversationReset, page, "method", "click", "ref", res.El.Ref)
			return nil
		}
	}

	if p == nil || p.NewConversationURL == "" {
		return fmt.Errorf("new conversation on %s: %w", doc.Host, domain.ErrNavigationUnavailable)
	}
	d.log().Debug("new chat control not usable, navigating", "page", page.ID(), "reason", rerr)
	if err := page.Navigate(ctx, p.NewConversationURL); err != nil {
		return fmt.Errorf("navigate %s: %w", p.NewConversationURL, err)
	}
	d.report(bus.EventConversationReset, page, "method", "navigate", "url", p.NewConversationURL)
	return nil
}
