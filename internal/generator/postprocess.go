package generator

import (
	"regexp"
	"strings"
)

var (
	rootHrefRe  = regexp.MustCompile(`<a href="/([^"]*)"`)
	assetSrcRe  = regexp.MustCompile(`<(img|source) ([^>]*?)src="([^"]+)"`)
	tagBreaksRe = regexp.MustCompile(`<[a-zA-Z][^<>]*\n[^<>]*>`)
)

// PostProcessBody rewrites root-relative links in raw HTML against
// basePath, makes bare asset paths document-relative and joins tags that
// were split over several lines. Fenced code blocks are left as written.
func PostProcessBody(body, basePath string) string {
	base := "/" + strings.Trim(basePath, "/")
	if base != "/" {
		base += "/"
	}

	var out, prose strings.Builder
	fence := ""
	for _, l := range strings.SplitAfter(body, "\n") {
		trimmed := strings.TrimSpace(l)
		if fence == "" {
			if fence = fenceMarker(trimmed); fence != "" {
				out.WriteString(rewriteHTML(prose.String(), base))
				prose.Reset()
				out.WriteString(l)
			} else {
				prose.WriteString(l)
			}
			continue
		}
		out.WriteString(l)
		if len(trimmed) >= len(fence) && strings.Trim(trimmed, fence[:1]) == "" {
			fence = ""
		}
	}
	out.WriteString(rewriteHTML(prose.String(), base))
	return out.String()
}

// fenceMarker returns the opening run of a fenced code line, or "".
func fenceMarker(line string) string {
	if line == "" || (line[0] != '`' && line[0] != '~') {
		return ""
	}
	n := len(line) - len(strings.TrimLeft(line, line[:1]))
	if n < 3 {
		return ""
	}
	return line[:n]
}

func rewriteHTML(body, base string) string {
	if body == "" {
		return ""
	}
	body = tagBreaksRe.ReplaceAllStringFunc(body, func(tag string) string {
		return strings.Join(strings.Fields(tag), " ")
	})
	if base != "/" {
		body = rootHrefRe.ReplaceAllStringFunc(body, func(m string) string {
			rest := rootHrefRe.FindStringSubmatch(m)[1]
			if strings.HasPrefix("/"+rest, base) {
				return m
			}
			return `<a href="` + base + rest + `"`
		})
	}
	return assetSrcRe.ReplaceAllStringFunc(body, func(m string) string {
		sub := assetSrcRe.FindStringSubmatch(m)
		src := sub[3]
		switch {
		case strings.HasPrefix(src, "./"), strings.HasPrefix(src, "../"),
			strings.HasPrefix(src, "/"), strings.Contains(src, "://"),
			strings.HasPrefix(src, "data:"):
			return m
		}
		return "<" + sub[1] + " " + sub[2] + `src="./` + src + `"`
	})
}
