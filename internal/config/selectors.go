// File: internal/config/selectors.go
package config

import (
	"time"

	"github.com/xkilldash9x/receipt-harvester/api/schemas"
)

// DefaultSelectors returns the lookup strategies for the payments list and
// receipt detail pages. Earlier entries win.
func DefaultSelectors() SelectorsConfig {
	return SelectorsConfig{
		ItemLinks: []StrategyConfig{
			{
				Name:     "receipt-link-text",
				Selector: schemas.Selector{By: schemas.ByXPath, Query: "//a[normalize-space(text())='領収書']", Exclude: "請求書"},
			},
			{
				Name:     "receipt-link-contains",
				Selector: schemas.Selector{By: schemas.ByXPath, Query: "//a[contains(text(), '領収書')]", Exclude: "請求書"},
				Timeout:  time.Second,
			},
			{
				Name:     "issuable-button",
				Selector: schemas.Selector{By: schemas.ByCSS, Query: "a.text-button.issuable"},
				Timeout:  time.Second,
			},
			{
				Name:     "receipt-sheet-href",
				Selector: schemas.Selector{By: schemas.ByCSS, Query: "a[href*='/receipt_sheets/new']"},
				Timeout:  time.Second,
			},
		},
		NextPage: []StrategyConfig{
			{
				Name:     "next-text",
				Selector: schemas.Selector{By: schemas.ByXPath, Query: "//a[contains(text(),'次へ')] | //a[contains(text(),'次の')]"},
				Timeout:  3 * time.Second,
			},
			{
				Name:     "rel-next",
				Selector: schemas.Selector{By: schemas.ByCSS, Query: "a[rel='next']"},
				Timeout:  2 * time.Second,
			},
		},
		IssuedMarker: []StrategyConfig{
			{
				Name:     "print-button",
				Selector: schemas.Selector{By: schemas.ByCSS, Query: ".print_button, .cw-button_action.print_button"},
			},
		},
		Preview: []StrategyConfig{
			{
				Name:     "preview-input",
				Selector: schemas.Selector{By: schemas.ByXPath, Query: "//input[@value='プレビューで内容を確認する']"},
			},
			{
				Name:     "preview-button",
				Selector: schemas.Selector{By: schemas.ByXPath, Query: "//button[contains(text(),'プレビューで内容を確認する')]"},
				Timeout:  2 * time.Second,
			},
		},
		Issue: []StrategyConfig{
			{
				Name:     "issue-input",
				Selector: schemas.Selector{By: schemas.ByXPath, Query: "//input[@value='この内容で発行する']"},
			},
			{
				Name:     "issue-button",
				Selector: schemas.Selector{By: schemas.ByXPath, Query: "//button[contains(text(),'この内容で発行する')]"},
				Timeout:  2 * time.Second,
			},
		},
		Confirm: []StrategyConfig{
			{
				Name:     "yes-control",
				Selector: schemas.Selector{By: schemas.ByXPath, Query: "//button[contains(text(),'はい')] | //input[@value='はい'] | //a[contains(text(),'はい')]"},
				Timeout:  5 * time.Second,
			},
			{
				Name:     "dialog-first-button",
				Selector: schemas.Selector{By: schemas.ByXPath, Query: "//div[contains(@class,'dialog')]//button[1]"},
				Timeout:  3 * time.Second,
			},
		},
		ConfirmTexts: []string{"はい", "OK", "Yes"},
	}
}

func (s *SelectorsConfig) applyDefaults() {
	d := DefaultSelectors()
	if len(s.ItemLinks) == 0 {
		s.ItemLinks = d.ItemLinks
	}
	if len(s.NextPage) == 0 {
		s.NextPage = d.NextPage
	}
	if len(s.IssuedMarker) == 0 {
		s.IssuedMarker = d.IssuedMarker
	}
	if len(s.Preview) == 0 {
		s.Preview = d.Preview
	}
	if len(s.Issue) == 0 {
		s.Issue = d.Issue
	}
	if len(s.Confirm) == 0 {
		s.Confirm = d.Confirm
	}
	if len(s.ConfirmTexts) == 0 {
		s.ConfirmTexts = d.ConfirmTexts
	}
}
