package format

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"liqflow/internal/models"
	"liqflow/internal/policy"
)

const (
	skullGlyph = "\U0001F480"
	timeLayout = "2006-01-02 15:04:05 UTC"
)

// skullStep is the notional covered by one skull glyph.
var skullStep = decimal.NewFromInt(100_000)

// markdownEscaper escapes the MarkdownV2 reserved characters, plus ':' so
// rendered timestamps come out inert. Telegram accepts a backslash before any
// ASCII punctuation.
var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"_", `\_`,
	"*", `\*`,
	"[", `\[`,
	"]", `\]`,
	"(", `\(`,
	")", `\)`,
	"~", `\~`,
	"`", "\\`",
	">", `\>`,
	"#", `\#`,
	"+", `\+`,
	"-", `\-`,
	"=", `\=`,
	"|", `\|`,
	"{", `\{`,
	"}", `\}`,
	".", `\.`,
	"!", `\!`,
	":", `\:`,
)

// EscapeMarkdownV2 makes a dynamic substring safe for interpolation into a
// MarkdownV2 message body.
func EscapeMarkdownV2(s string) string {
	return markdownEscaper.Replace(s)
}

// SkullCount maps a notional to its skull line length: one glyph per full
// $100k, never fewer than one.
func SkullCount(notional decimal.Decimal) int {
	n := notional.Div(skullStep).IntPart()
	if n < 1 {
		return 1
	}
	return int(n)
}

// PositionLabel names the position that was liquidated. The exchange reports
// the side of the forced order closing it, so the label is the inverse.
func PositionLabel(side models.Side) string {
	if side == models.SideBuy {
		return "SHORT"
	}
	return "LONG"
}

func exchangeTag(exchange models.Exchange) string {
	switch exchange {
	case models.ExchangeBinance:
		return "\U0001F536 Binance"
	case models.ExchangeBybit:
		return "\U0001F7E8 Bybit"
	default:
		return string(exchange)
	}
}

func money(v decimal.Decimal) string {
	return humanize.FormatFloat("#,###.##", v.InexactFloat64())
}

// Alert renders one liquidation event as a MarkdownV2 message. Every dynamic
// substring goes through EscapeMarkdownV2 before interpolation; the literal
// markup (bold markers, the header bang) is written directly.
func Alert(ev models.LiquidationEvent, pol *policy.SymbolPolicy) string {
	assetPolicy := pol.For(ev.Symbol)

	var b strings.Builder
	b.WriteString(strings.Repeat(skullGlyph, SkullCount(ev.Notional)))
	b.WriteByte('\n')

	fmt.Fprintf(&b, "*%s Liquidation\\!*\n", exchangeTag(ev.Exchange))

	if assetPolicy.Color != "" {
		fmt.Fprintf(&b, "%s %s$%s\n", PositionLabel(ev.Side), assetPolicy.Color, EscapeMarkdownV2(policy.BaseAsset(ev.Symbol)))
	} else {
		fmt.Fprintf(&b, "%s $%s\n", PositionLabel(ev.Side), EscapeMarkdownV2(ev.Symbol))
	}

	fmt.Fprintf(&b, "*$%s @ %s*\n", EscapeMarkdownV2(money(ev.Notional)), EscapeMarkdownV2(money(ev.Price)))

	b.WriteString(EscapeMarkdownV2(ev.ObservedAt.UTC().Format(timeLayout)))
	return b.String()
}

// StartupMessage announces the service and its active thresholds. Sent once
// to the chat after the feeds are launched.
func StartupMessage(name, version string, pol *policy.SymbolPolicy, sources []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s %s started*\n", EscapeMarkdownV2(name), EscapeMarkdownV2("v"+version))
	fmt.Fprintf(&b, "Sources\\: %s\n", EscapeMarkdownV2(strings.Join(sources, ", ")))
	if tracked := pol.TrackedAssets(); len(tracked) > 0 {
		fmt.Fprintf(&b, "Tracked %s \\>\\= $%s\n",
			EscapeMarkdownV2(strings.Join(tracked, "/")),
			EscapeMarkdownV2(money(pol.TrackedThreshold())))
	}
	fmt.Fprintf(&b, "Others \\>\\= $%s", EscapeMarkdownV2(money(pol.DefaultThreshold())))
	return b.String()
}
