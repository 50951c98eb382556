package exposure

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"VaultKeeper/internal/model"
	"VaultKeeper/internal/notifier"
)

// ErrPreflight marks a vault or pool that must not be acted on.
var ErrPreflight = errors.New("preflight check failed")

// ratioMargin is the minimum distance kept between the band and the
// ledger's minimum collateral ratio, and between the band edges.
var ratioMargin = decimal.NewFromInt(2)

// CheckItem is one line of a setup check.
type CheckItem struct {
	Name   string
	OK     bool
	Detail string
}

// Report is the result of CheckSetup.
type Report struct {
	Items []CheckItem
}

// OK reports whether every check passed.
func (r Report) OK() bool {
	for _, it := range r.Items {
		if !it.OK {
			return false
		}
	}
	return len(r.Items) > 0
}

func (r *Report) add(name string, ok bool, detail string) {
	r.Items = append(r.Items, CheckItem{Name: name, OK: ok, Detail: detail})
}

// CheckSetup validates the configuration against the ledger. A failing
// check is reported in the Report; the error is reserved for ledger failures
// that prevented checking at all.
func (p *Program) CheckSetup(ctx context.Context) (Report, error) {
	var r Report
	s := p.settings

	r.add("address", s.Address != "", s.Address)
	r.add("vault id", s.VaultID != "", s.VaultID)
	if s.Address == "" || s.VaultID == "" {
		return r, nil
	}

	vault, err := p.gateway.GetVault(ctx)
	if err != nil {
		r.add("vault reachable", false, err.Error())
		return r, nil
	}
	r.add("vault reachable", true, string(vault.State))
	r.add("vault owner", vault.OwnerAddress == "" || vault.OwnerAddress == s.Address, vault.OwnerAddress)

	pool, err := p.gateway.GetPool(ctx, s.Pair())
	r.add("pool "+s.Pair(), err == nil && pool.Symbol != "", errDetail(err))

	minAllowed := vault.Scheme.MinColRatio.Add(ratioMargin)
	r.add("min ratio", s.MinRatio.GreaterThanOrEqual(minAllowed),
		fmt.Sprintf("%s (scheme minimum %s + %s)", s.MinRatio, vault.Scheme.MinColRatio, ratioMargin))
	if s.LeverageDisabled() {
		r.add("max ratio", true, "leverage disabled")
	} else {
		r.add("max ratio", s.MaxRatio.GreaterThan(s.MinRatio.Add(ratioMargin)),
			fmt.Sprintf("%s (must exceed min ratio + %s)", s.MaxRatio, ratioMargin))
	}
	return r, nil
}

// Preflight rejects states no action may run in.
func Preflight(vault model.Vault, pool model.Pool, poolErr error, pair string) error {
	if vault.State == model.VaultInLiquidation {
		return fmt.Errorf("%w: vault %s is in liquidation", ErrPreflight, vault.ID)
	}
	if poolErr != nil || pool.Symbol == "" {
		return fmt.Errorf("%w: pool %s not found: %v", ErrPreflight, pair, poolErr)
	}
	return nil
}

// FormatCheck renders a setup report for the operator.
func FormatCheck(s model.Settings, r Report) string {
	var b strings.Builder
	if r.OK() {
		b.WriteString("✅ <b>setup check passed</b>\n\n")
	} else {
		b.WriteString("❌ <b>setup check failed</b>\n\n")
	}
	for _, it := range r.Items {
		mark := "✅"
		if !it.OK {
			mark = "❌"
		}
		if it.Detail != "" {
			b.WriteString(fmt.Sprintf("%s %s: %s\n", mark, notifier.Escape(it.Name), notifier.Escape(it.Detail)))
		} else {
			b.WriteString(fmt.Sprintf("%s %s\n", mark, notifier.Escape(it.Name)))
		}
	}
	b.WriteString(fmt.Sprintf("\ntarget range %s - %s, token %s", s.MinRatio, s.MaxRatio, notifier.Escape(s.Pair())))
	return b.String()
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
