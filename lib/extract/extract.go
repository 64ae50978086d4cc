package extract

import (
	"html"
	"net/netip"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ipsleuth/ipsleuth/lib/fault"
)

// Labels of the content rows the service renders. Script-embedded
// globals are authoritative when present; these DOM regions are the
// required fallback since not every field is mirrored into a global.
const (
	labelLocation  = "IP位置"
	labelASN       = "ASN"
	labelASNOwner  = "ASN所有者"
	labelOrg       = "企业"
	labelLongitude = "经度"
	labelLatitude  = "纬度"
	labelIPType    = "IP类型"
	labelNativeIP  = "原生 IP"
	labelRisk      = "风险值"
)

// submitCorrectionArtifact is the "report an error" link text the
// service renders inside the location region; it is UI chrome, not data.
const submitCorrectionArtifact = "提交纠错"

const defaultTitle = "Ping0"

// page bundles the parsed document with the raw body so strategies can
// pick whichever representation suits them.
type page struct {
	doc  *goquery.Document
	body string
}

// strategy is one way to find a field's value. Strategies are
// independent; the first one that reports present wins.
type strategy func(*page) (string, bool)

func firstOf(p *page, strategies ...strategy) string {
	for _, s := range strategies {
		if value, ok := s(p); ok {
			return value
		}
	}
	return ""
}

// Extract parses one response body into a Record, or classifies the page
// as an error page when no IP can be determined at all.
func Extract(doc *goquery.Document, body string) (*Record, error) {
	p := &page{doc: doc, body: body}

	ip := firstOf(p, ipFromGlobal, ipFromTitle)
	if ip == "" {
		if ferr := classifyErrorPage(doc.Text()); ferr != nil {
			return nil, ferr
		}
		return nil, unrecognizedPage(p)
	}

	rec := &Record{
		IP:     ip,
		Source: Attribution,
	}

	rec.IPLocation = firstOf(p, locationFromGlobal, locationFromRow)
	rec.CountryFlag = flagFromLocationRow(p)
	rec.ASN = asnFromRow(p)
	rec.ASNOwner, rec.ASNType = taggedRegion(p, labelASNOwner)
	rec.Organization, rec.OrgType = taggedRegion(p, labelOrg)
	rec.Longitude = firstOf(p, globalStrategy("longitude"), rowStrategy(labelLongitude))
	rec.Latitude = firstOf(p, globalStrategy("latitude"), rowStrategy(labelLatitude))
	rec.IPType = rowText(p, labelIPType)
	rec.NativeIP = rowText(p, labelNativeIP)
	rec.RiskValue = riskFromRow(p)

	return rec, nil
}

// scriptGlobalRe builds the two accepted assignment shapes for an inline
// script global: explicitly on window, or bare at statement start.
func scriptGlobalRe(name string) [2]*regexp.Regexp {
	quoted := regexp.QuoteMeta(name)
	return [2]*regexp.Regexp{
		regexp.MustCompile(`window\.` + quoted + `\s*=\s*['"]([^'"]*)['"]`),
		regexp.MustCompile(`(?m)^\s*(?:var\s+|let\s+|const\s+)?` + quoted + `\s*=\s*['"]([^'"]*)['"]`),
	}
}

var globalRes = map[string][2]*regexp.Regexp{
	"ip":        scriptGlobalRe("ip"),
	"loc":       scriptGlobalRe("loc"),
	"longitude": scriptGlobalRe("longitude"),
	"latitude":  scriptGlobalRe("latitude"),
}

func scriptGlobal(body, name string) (string, bool) {
	res, ok := globalRes[name]
	if !ok {
		res = scriptGlobalRe(name)
	}

	for _, re := range res {
		if m := re.FindStringSubmatch(body); m != nil && m[1] != "" {
			return m[1], true
		}
	}
	return "", false
}

func globalStrategy(name string) strategy {
	return func(p *page) (string, bool) {
		return scriptGlobal(p.body, name)
	}
}

func rowStrategy(label string) strategy {
	return func(p *page) (string, bool) {
		value := rowText(p, label)
		return value, value != ""
	}
}

func ipFromGlobal(p *page) (string, bool) {
	return scriptGlobal(p.body, "ip")
}

// ipFromTitle falls back to the leading segment of the document title.
// Result pages title themselves "<address> - <site>"; anything that is
// not address-shaped means this is not a result page.
func ipFromTitle(p *page) (string, bool) {
	title := strings.TrimSpace(p.doc.Find("title").First().Text())
	lead, _, ok := strings.Cut(title, "-")
	if !ok {
		return "", false
	}

	lead = strings.TrimSpace(lead)
	if lead == "" || lead == defaultTitle {
		return "", false
	}

	if _, err := netip.ParseAddr(lead); err == nil {
		return lead, true
	}
	if !strings.ContainsAny(lead, " \t") && strings.Contains(lead, ".") {
		return lead, true
	}

	return "", false
}

func locationFromGlobal(p *page) (string, bool) {
	value, ok := scriptGlobal(p.body, "loc")
	if !ok {
		return "", false
	}
	return html.UnescapeString(value), true
}

func locationFromRow(p *page) (string, bool) {
	content := row(p, labelLocation)
	if content == nil {
		return "", false
	}

	text := strings.ReplaceAll(content.Text(), submitCorrectionArtifact, "")
	text = html.UnescapeString(collapseSpace(text))
	return text, text != ""
}

// flagFromLocationRow reads the country flag image and turns its
// filename stem into the flag code.
func flagFromLocationRow(p *page) string {
	content := row(p, labelLocation)
	if content == nil {
		return ""
	}

	src, ok := content.Find("img").First().Attr("src")
	if !ok {
		return ""
	}

	base := path.Base(src)
	return strings.TrimSuffix(base, path.Ext(base))
}

func asnFromRow(p *page) string {
	content := row(p, labelASN)
	if content == nil {
		return ""
	}

	return strings.TrimSpace(content.Find("a").First().Text())
}

// taggedRegion reads a labeled region that mixes an owner name with
// classification tags. The tags are stripped before reading the owner
// and separately joined into the type field; an em-dash inside the
// owner cuts off a legacy suffix the service appends.
func taggedRegion(p *page, label string) (owner, tags string) {
	content := row(p, label)
	if content == nil {
		return "", ""
	}

	var collected []string
	content.Find(".label").Each(func(_ int, t *goquery.Selection) {
		if text := strings.TrimSpace(t.Text()); text != "" {
			collected = append(collected, text)
		}
	})

	pruned := content.Clone()
	pruned.Find(".label").Remove()

	owner = collapseSpace(pruned.Text())
	if head, _, found := strings.Cut(owner, "—"); found {
		owner = strings.TrimSpace(head)
	}
	owner = html.UnescapeString(owner)

	return owner, strings.Join(collected, "; ")
}

func riskFromRow(p *page) string {
	content := row(p, labelRisk)
	if content == nil {
		return ""
	}

	current := content.Find(".riskbar .riskcurrent").First()
	value := strings.TrimSpace(current.Find(".value").First().Text())
	lab := strings.TrimSpace(current.Find(".lab").First().Text())
	if value == "" && lab == "" {
		return collapseSpace(content.Text())
	}

	return value + lab
}

func rowText(p *page, label string) string {
	content := row(p, label)
	if content == nil {
		return ""
	}

	return collapseSpace(content.Text())
}

// row finds the content region of the labeled row, or nil.
func row(p *page, label string) *goquery.Selection {
	var found *goquery.Selection

	p.doc.Find(".line").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.TrimSpace(s.Find(".name").First().Text()) == label {
			found = s.Find(".content").First()
			return false
		}
		return true
	})

	return found
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

const excerptLimit = 150

// unrecognizedPage builds the diagnostic fault for a page that is
// neither a result page nor a known error page. The hint is, in order
// of preference, any error-styled element text, the page title when it
// is not the site default, or the first heading.
func unrecognizedPage(p *page) *fault.Error {
	excerpt := collapseSpace(p.doc.Text())
	if len(excerpt) > excerptLimit {
		// Back off to a rune boundary so the mostly-Chinese page text
		// stays valid UTF-8 when cut.
		cut := excerptLimit
		for cut > 0 && !utf8.RuneStart(excerpt[cut]) {
			cut--
		}
		excerpt = excerpt[:cut]
	}

	hint := collapseSpace(p.doc.Find(".error, .alert, .errmsg").First().Text())
	if hint == "" {
		if title := strings.TrimSpace(p.doc.Find("title").First().Text()); title != "" && title != defaultTitle {
			hint = title
		}
	}
	if hint == "" {
		hint = collapseSpace(p.doc.Find("h1, h2").First().Text())
	}

	if hint != "" {
		return fault.New(fault.UnrecognizedPage, "page has no resolvable IP (%s): %s", hint, excerpt)
	}
	return fault.New(fault.UnrecognizedPage, "page has no resolvable IP: %s", excerpt)
}
