package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsletter-archive/internal/feed"
	"github.com/JakeFAU/newsletter-archive/internal/newsletter"
)

const (
	defaultPageLimit  = 12
	maxPageLimit      = 100
	rssItemCount      = 50
	defaultEmbedLimit = 10
	maxEmbedLimit     = 50
	maxBodyBytes      = 64 << 10
)

type pageResponse struct {
	Items []newsletter.Issue `json:"items"`
	Total int                `json:"total"`
	Page  int                `json:"page"`
	Limit int                `json:"limit"`
}

func (s *Server) listNewsletters(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r, defaultPageLimit, maxPageLimit)
	result, err := s.deps.Issues.GetIssuesPaged(r.Context(), page, limit)
	if err != nil {
		s.logger.Error("list newsletters failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch newsletters")
		return
	}
	writeJSON(w, http.StatusOK, pageResponse{Items: result.Items, Total: result.Total, Page: page, Limit: limit})
}

func (s *Server) searchNewsletters(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		s.listNewsletters(w, r)
		return
	}
	page, limit := pageParams(r, defaultPageLimit, maxPageLimit)
	result, err := s.deps.Issues.SearchIssues(r.Context(), query, page, limit)
	if err != nil {
		s.logger.Error("search newsletters failed", zap.String("query", query), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to search newsletters")
		return
	}
	writeJSON(w, http.StatusOK, pageResponse{Items: result.Items, Total: result.Total, Page: page, Limit: limit})
}

func (s *Server) rss(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Issues.GetIssuesPaged(r.Context(), 1, rssItemCount)
	if err != nil {
		s.logger.Error("load rss items failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to generate feed")
		return
	}
	out, err := feed.RSS(s.cfg.Site, result.Items, s.deps.Clock.Now())
	if err != nil {
		s.logger.Error("render rss failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to generate feed")
		return
	}
	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}

func (s *Server) embed(w http.ResponseWriter, r *http.Request) {
	_, limit := pageParams(r, defaultEmbedLimit, maxEmbedLimit)
	result, err := s.deps.Issues.GetIssuesPaged(r.Context(), 1, limit)
	if err != nil {
		s.logger.Error("load embed items failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to render embed")
		return
	}
	var buf bytes.Buffer
	if err := feed.Embed(&buf, s.cfg.Site, result.Items); err != nil {
		s.logger.Error("render embed failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to render embed")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type subscriptionRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		Auth   string `json:"auth"`
		P256dh string `json:"p256dh"`
	} `json:"keys"`
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Endpoint == "" || req.Keys.Auth == "" || req.Keys.P256dh == "" {
		writeError(w, http.StatusBadRequest, "endpoint, keys.auth and keys.p256dh are required")
		return
	}
	sub, err := s.deps.Subscriber.Subscribe(r.Context(), newsletter.SubscriptionInput{
		Endpoint: req.Endpoint,
		Auth:     req.Keys.Auth,
		P256dh:   req.Keys.P256dh,
	})
	if err != nil {
		s.logger.Error("subscribe failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save subscription")
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

type settingsRequest struct {
	Endpoint                string `json:"endpoint"`
	NewsletterNotifications *bool  `json:"newsletterNotifications"`
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Endpoint == "" || req.NewsletterNotifications == nil {
		writeError(w, http.StatusBadRequest, "endpoint and newsletterNotifications are required")
		return
	}
	settings, err := s.deps.Subscriptions.SetNotificationsEnabled(r.Context(), req.Endpoint, *req.NewsletterNotifications)
	if errors.Is(err, newsletter.ErrNotFound) {
		writeError(w, http.StatusNotFound, "subscription not found")
		return
	}
	if err != nil {
		s.logger.Error("update settings failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

func pageParams(r *http.Request, defLimit, maxLimit int) (int, int) {
	page := positiveInt(r.URL.Query().Get("page"), 1)
	limit := min(positiveInt(r.URL.Query().Get("limit"), defLimit), maxLimit)
	// Keeps (page-1)*limit inside an int32 offset; such pages are empty anyway.
	return min(page, math.MaxInt32/limit), limit
}

func positiveInt(raw string, def int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}
