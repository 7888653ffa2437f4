package repo

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/miradorstack/mirador-investigator/internal/models"
)

// KibanaLinker builds Discover and APM deep links for evidence items.
type KibanaLinker struct {
	baseURL string
	space   string
	window  time.Duration
}

// NewKibanaLinker returns nil when baseURL is empty so callers can skip linking.
func NewKibanaLinker(baseURL, space string) *KibanaLinker {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil
	}
	return &KibanaLinker{baseURL: baseURL, space: strings.TrimSpace(space), window: 5 * time.Minute}
}

// Links returns the deep links for item.
func (k *KibanaLinker) Links(item models.EvidenceItem) []models.Link {
	if k == nil {
		return nil
	}
	links := make([]models.Link, 0, 2)
	if item.Source == models.SourceTrace && item.Keys.TraceID != "" {
		links = append(links, models.Link{
			Label: "Open trace in APM",
			URL:   k.base() + "/app/apm/link-to/trace/" + url.PathEscape(item.Keys.TraceID),
		})
	}
	links = append(links, models.Link{Label: "Open in Discover", URL: k.discover(item)})
	return links
}

func (k *KibanaLinker) base() string {
	if k.space != "" {
		return k.baseURL + "/s/" + url.PathEscape(k.space)
	}
	return k.baseURL
}

func (k *KibanaLinker) discover(item models.EvidenceItem) string {
	from, to := "now-1h", "now"
	if !item.Timestamp.IsZero() {
		from = item.Timestamp.Add(-k.window).UTC().Format(time.RFC3339)
		to = item.Timestamp.Add(k.window).UTC().Format(time.RFC3339)
	}
	var kql []string
	switch {
	case item.Keys.TraceID != "":
		kql = append(kql, fmt.Sprintf(`trace.id: "%s"`, item.Keys.TraceID))
	case item.Keys.DeploymentID != "":
		kql = append(kql, fmt.Sprintf(`deployment.id: "%s"`, item.Keys.DeploymentID))
	case item.Keys.Service != "":
		kql = append(kql, fmt.Sprintf(`service.name: "%s"`, item.Keys.Service))
	}
	params := url.Values{}
	params.Set("_g", fmt.Sprintf("(time:(from:'%s',to:'%s'))", from, to))
	if len(kql) > 0 {
		params.Set("_a", fmt.Sprintf("(query:(language:kuery,query:'%s'))", strings.Join(kql, " and ")))
	}
	return k.base() + "/app/discover#/?" + params.Encode()
}
