package scrape

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "liscraper/pkg/errors"
	"liscraper/pkg/logger"
	"liscraper/pkg/orchestrator"
	"liscraper/pkg/task"
)

// ConnectionListParams drives a connection-list task: walk the paginated
// connection listing starting at PageURL.
type ConnectionListParams struct {
	PageURL  string `json:"page_url"`
	MaxPages int    `json:"max_pages,omitempty"`
}

// ProfileParams drives a single-profile task.
type ProfileParams struct {
	ProfileURL string `json:"profile_url"`
}

// ActivityFeedParams drives an activity-feed task.
type ActivityFeedParams struct {
	FeedURL string `json:"feed_url"`
}

// CompanyMapParams drives a company-map task.
type CompanyMapParams struct {
	CompanyURL string `json:"company_url"`
}

// BatchProfileParams drives a batch-profile task. With Resume set, profiles
// already present in the archive are skipped instead of re-fetched.
type BatchProfileParams struct {
	ProfileURLs []string `json:"profile_urls"`
	Resume      bool     `json:"resume,omitempty"`
}

// Handlers wires the fetch client and archive into a handler table covering
// every task type the orchestrator dispatches.
func Handlers(client *Client, archive *Archive, log logger.Logger) orchestrator.HandlerTable {
	if log == nil {
		log = logger.GetLogger()
	}
	h := &handlerSet{client: client, archive: archive, log: log}

	return orchestrator.HandlerTable{
		task.TypeConnectionList: h.connectionList,
		task.TypeProfile:        h.profile,
		task.TypeActivityFeed:   h.activityFeed,
		task.TypeCompanyMap:     h.companyMap,
		task.TypeBatchProfile:   h.batchProfile,
	}
}

type handlerSet struct {
	client  *Client
	archive *Archive
	log     logger.Logger
}

// fetchAndArchive is the shared single-page path: throttled fetch, then
// snapshot to disk.
func (h *handlerSet) fetchAndArchive(ctx context.Context, url string) error {
	body, err := h.client.Fetch(ctx, url)
	if err != nil {
		return err
	}
	if err := h.archive.Save(url, body); err != nil {
		return apperrors.Wrap(apperrors.ErrorTypeUnknown, err, "failed to archive page")
	}
	return nil
}

func (h *handlerSet) profile(ctx context.Context, params json.RawMessage, report orchestrator.ProgressFunc) error {
	var p ProfileParams
	if err := decodeParams(params, &p); err != nil {
		return err
	}
	if p.ProfileURL == "" {
		return apperrors.New(apperrors.ErrorTypeParsing, "profile_url is required")
	}
	return h.fetchAndArchive(ctx, p.ProfileURL)
}

func (h *handlerSet) activityFeed(ctx context.Context, params json.RawMessage, report orchestrator.ProgressFunc) error {
	var p ActivityFeedParams
	if err := decodeParams(params, &p); err != nil {
		return err
	}
	if p.FeedURL == "" {
		return apperrors.New(apperrors.ErrorTypeParsing, "feed_url is required")
	}
	return h.fetchAndArchive(ctx, p.FeedURL)
}

func (h *handlerSet) companyMap(ctx context.Context, params json.RawMessage, report orchestrator.ProgressFunc) error {
	var p CompanyMapParams
	if err := decodeParams(params, &p); err != nil {
		return err
	}
	if p.CompanyURL == "" {
		return apperrors.New(apperrors.ErrorTypeParsing, "company_url is required")
	}
	return h.fetchAndArchive(ctx, p.CompanyURL)
}

func (h *handlerSet) connectionList(ctx context.Context, params json.RawMessage, report orchestrator.ProgressFunc) error {
	var p ConnectionListParams
	if err := decodeParams(params, &p); err != nil {
		return err
	}
	if p.PageURL == "" {
		return apperrors.New(apperrors.ErrorTypeParsing, "page_url is required")
	}
	pages := p.MaxPages
	if pages <= 0 {
		pages = 1
	}

	for page := 1; page <= pages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		report(page, pages, fmt.Sprintf("fetching connection page %d of %d", page, pages))

		url := p.PageURL
		if page > 1 {
			url = fmt.Sprintf("%s?page=%d", p.PageURL, page)
		}
		if err := h.fetchAndArchive(ctx, url); err != nil {
			return err
		}
	}
	return nil
}

func (h *handlerSet) batchProfile(ctx context.Context, params json.RawMessage, report orchestrator.ProgressFunc) error {
	var p BatchProfileParams
	if err := decodeParams(params, &p); err != nil {
		return err
	}
	if len(p.ProfileURLs) == 0 {
		return apperrors.New(apperrors.ErrorTypeParsing, "profile_urls is required")
	}

	total := len(p.ProfileURLs)
	skipped := 0
	for i, url := range p.ProfileURLs {
		if err := ctx.Err(); err != nil {
			return err
		}
		report(i+1, total, fmt.Sprintf("scraping profile %d of %d", i+1, total))

		if p.Resume && h.archive.Has(url) {
			skipped++
			continue
		}
		if err := h.fetchAndArchive(ctx, url); err != nil {
			return err
		}
	}

	if skipped > 0 {
		h.log.InfoWithFields("batch scrape skipped archived profiles", map[string]interface{}{
			"skipped": skipped,
			"total":   total,
		})
	}
	return nil
}

func decodeParams(raw json.RawMessage, target interface{}) error {
	if len(raw) == 0 {
		return apperrors.New(apperrors.ErrorTypeParsing, "task params are required")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return apperrors.Wrap(apperrors.ErrorTypeParsing, err, "failed to decode task params")
	}
	return nil
}
