package youtube

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/offtube/offtube/pkg/logger"
)

// Subscription extraction has no single reliable path; the feed markup and
// the extractor support for it both shift under us regularly. Each strategy
// below is an independent best-effort attempt and the first one to produce a
// non-empty channel list wins.

type subscriptionStrategy struct {
	name  string
	fetch func(ctx context.Context, client *Client) ([]ChannelRecord, error)
}

var subscriptionStrategies = []subscriptionStrategy{
	{name: "flat-print", fetch: subscriptionsViaFlatPrint},
	{name: "authcheck-skip-dump", fetch: subscriptionsViaAuthcheckDump},
	{name: "page-scrape", fetch: subscriptionsViaPageScrape},
}

var (
	channelIDPattern      = regexp.MustCompile(`^UC[0-9A-Za-z_-]{18,}$`)
	ytInitialDataPattern  = regexp.MustCompile(`var ytInitialData = (.+?);</script>`)
	inlineChannelPattern  = regexp.MustCompile(`"channelId":"(UC[0-9A-Za-z_-]{22})","title":"([^"]+)"`)
	channelAnchorPattern  = regexp.MustCompile(`href="/channel/(UC[0-9A-Za-z_-]{22})"[^>]*>([^<]+)</a>`)
	subscriptionFeedURL   = "https://www.youtube.com/feed/channels"
	subscriptionFeedAlias = ":ytsubs"
)

// Subscriptions returns the channels the authenticated user is subscribed
// to, along with the name of the extraction strategy which produced them.
// A cookie file with content is required; ErrUnauthenticated is returned
// without attempting extraction if it is absent.
func (client *Client) Subscriptions(ctx context.Context) ([]ChannelRecord, string, error) {
	if !client.cookies.Present() {
		return nil, "", ErrUnauthenticated
	}

	for _, strategy := range subscriptionStrategies {
		channels, err := strategy.fetch(ctx, client)
		if err != nil {
			log.Emit(logger.WARNING, "Subscription strategy %s failed: %v\n", strategy.name, err)
			continue
		}
		if len(channels) == 0 {
			log.Emit(logger.DEBUG, "Subscription strategy %s produced no channels, trying next\n", strategy.name)
			continue
		}

		log.Emit(logger.INFO, "Found %d subscribed channels using strategy %s\n", len(channels), strategy.name)
		return channels, strategy.name, nil
	}

	return nil, "", fmt.Errorf("all subscription extraction strategies failed or produced no channels")
}

// subscriptionsViaFlatPrint is the fast path: a flat playlist listing which
// prints only the uploader name and channel IDs, tried against the channels
// feed and two fallback locations.
func subscriptionsViaFlatPrint(ctx context.Context, client *Client) ([]ChannelRecord, error) {
	urls := []string{subscriptionFeedURL, subscriptionFeedAlias, "https://www.youtube.com/feed/subscriptions"}

	var lastErr error
	for _, url := range urls {
		output, err := client.runner.Run(ctx,
			"--flat-playlist",
			"--print", "%(uploader)s %(channel_id)s %(uploader_id)s",
			"--cookies", client.cookies.Path(),
			"--no-warnings",
			url,
		)
		if err != nil {
			lastErr = err
			continue
		}

		if channels := parseFlatPrintListing(output); len(channels) > 0 {
			return channels, nil
		}
	}

	return nil, lastErr
}

// parseFlatPrintListing parses '<uploader words…> <channel id>' lines. The
// uploader name can itself contain spaces so the channel ID is located by
// shape rather than position.
func parseFlatPrintListing(output []byte) []ChannelRecord {
	channels := make([]ChannelRecord, 0)
	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) < 2 {
			continue
		}

		var channelID string
		titleParts := make([]string, 0, len(parts))
		for _, part := range parts {
			if channelIDPattern.MatchString(part) {
				channelID = part
			} else {
				titleParts = append(titleParts, part)
			}
		}

		if channelID == "" {
			continue
		}
		if _, ok := seen[channelID]; ok {
			continue
		}
		seen[channelID] = struct{}{}

		title := strings.Join(titleParts, " ")
		if title == "" || title == "NA" {
			title = "Unknown Channel"
		}

		channels = append(channels, ChannelRecord{
			ID:           channelID,
			Title:        title,
			ThumbnailURL: ChannelThumbnailURL(channelID),
		})
	}

	return channels
}

// subscriptionsViaAuthcheckDump dumps the flat subscription playlist as JSON
// with the extractor's auth check skipped, which keeps working during the
// windows where the check itself is what's broken.
func subscriptionsViaAuthcheckDump(ctx context.Context, client *Client) ([]ChannelRecord, error) {
	output, err := client.runner.Run(ctx,
		"--flat-playlist",
		"--extractor-args", "youtubetab:skip=authcheck",
		"--dump-json",
		"--cookies", client.cookies.Path(),
		"--no-warnings",
		subscriptionFeedAlias,
	)
	if err != nil {
		return nil, err
	}

	channels := make([]ChannelRecord, 0)
	seen := make(map[string]struct{})

	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var entry struct {
			ChannelID  string `json:"channel_id"`
			UploaderID string `json:"uploader_id"`
			Channel    string `json:"channel"`
			Uploader   string `json:"uploader"`
		}
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}

		channelID := entry.ChannelID
		if channelID == "" {
			channelID = entry.UploaderID
		}
		if !channelIDPattern.MatchString(channelID) {
			continue
		}
		if _, ok := seen[channelID]; ok {
			continue
		}
		seen[channelID] = struct{}{}

		title := entry.Channel
		if title == "" {
			title = entry.Uploader
		}
		if title == "" {
			title = "Unknown Channel"
		}

		channels = append(channels, ChannelRecord{
			ID:           channelID,
			Title:        title,
			ThumbnailURL: ChannelThumbnailURL(channelID),
		})
	}

	return channels, nil
}

// subscriptionsViaPageScrape is the last resort: dump the raw channels feed
// page and dig the channel list out of the embedded ytInitialData blob,
// falling back to plain markup patterns if the blob can't be decoded.
func subscriptionsViaPageScrape(ctx context.Context, client *Client) ([]ChannelRecord, error) {
	output, err := client.runner.Run(ctx,
		"--dump-pages", "--no-download",
		"--cookies", client.cookies.Path(),
		"--no-warnings",
		subscriptionFeedURL,
	)
	if err != nil {
		return nil, err
	}

	if channels := parseInitialDataChannels(output); len(channels) > 0 {
		return channels, nil
	}

	return parseMarkupChannels(output), nil
}

func parseInitialDataChannels(page []byte) []ChannelRecord {
	match := ytInitialDataPattern.FindSubmatch(page)
	if match == nil {
		return nil
	}

	var data any
	if err := json.Unmarshal(match[1], &data); err != nil {
		log.Emit(logger.DEBUG, "Failed to decode ytInitialData blob: %v\n", err)
		return nil
	}

	channels := make([]ChannelRecord, 0)
	seen := make(map[string]struct{})
	collectGridChannels(data, seen, &channels)

	return channels
}

// collectGridChannels walks the decoded ytInitialData structure looking for
// gridChannelRenderer objects. The exact nesting path shifts between page
// revisions so a full walk is more durable than indexing a known path.
func collectGridChannels(node any, seen map[string]struct{}, channels *[]ChannelRecord) {
	switch value := node.(type) {
	case map[string]any:
		if renderer, ok := value["gridChannelRenderer"].(map[string]any); ok {
			if record, ok := gridChannelRecord(renderer); ok {
				if _, dup := seen[record.ID]; !dup {
					seen[record.ID] = struct{}{}
					*channels = append(*channels, record)
				}
			}
		}

		for _, child := range value {
			collectGridChannels(child, seen, channels)
		}
	case []any:
		for _, child := range value {
			collectGridChannels(child, seen, channels)
		}
	}
}

func gridChannelRecord(renderer map[string]any) (ChannelRecord, bool) {
	channelID, _ := renderer["channelId"].(string)
	if !channelIDPattern.MatchString(channelID) {
		return ChannelRecord{}, false
	}

	title := "Unknown Channel"
	if titleNode, ok := renderer["title"].(map[string]any); ok {
		if simple, ok := titleNode["simpleText"].(string); ok && simple != "" {
			title = simple
		}
	}

	thumbnail := ChannelThumbnailURL(channelID)
	if thumbNode, ok := renderer["thumbnail"].(map[string]any); ok {
		if thumbs, ok := thumbNode["thumbnails"].([]any); ok && len(thumbs) > 0 {
			if last, ok := thumbs[len(thumbs)-1].(map[string]any); ok {
				if url, ok := last["url"].(string); ok && url != "" {
					thumbnail = url
				}
			}
		}
	}

	return ChannelRecord{ID: channelID, Title: title, ThumbnailURL: thumbnail}, true
}

func parseMarkupChannels(page []byte) []ChannelRecord {
	channels := make([]ChannelRecord, 0)
	seen := make(map[string]struct{})

	for _, pattern := range []*regexp.Regexp{inlineChannelPattern, channelAnchorPattern} {
		for _, match := range pattern.FindAllSubmatch(page, -1) {
			channelID := string(match[1])
			if _, ok := seen[channelID]; ok {
				continue
			}
			seen[channelID] = struct{}{}

			channels = append(channels, ChannelRecord{
				ID:           channelID,
				Title:        string(match[2]),
				ThumbnailURL: ChannelThumbnailURL(channelID),
			})
		}
	}

	return channels
}
