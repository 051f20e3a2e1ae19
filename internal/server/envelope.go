// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// The array's REST dialect wraps every resource in an envelope carrying
// @base/updated/links plus either "entries" (collections) or "content"
// (single instances). Errors use a fixed errorCode regardless of cause.
const restErrorCode = 131149829

type link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

type entry struct {
	Base    string      `json:"@base"`
	Content interface{} `json:"content"`
	Links   []link      `json:"links"`
	Updated string      `json:"updated"`
}

type collectionEnvelope struct {
	Base    string  `json:"@base"`
	Updated string  `json:"updated"`
	Links   []link  `json:"links"`
	Entries []entry `json:"entries"`
}

type instanceEnvelope struct {
	Base    string      `json:"@base"`
	Content interface{} `json:"content"`
	Links   []link      `json:"links"`
	Updated string      `json:"updated"`
}

type errorBody struct {
	ErrorCode      int                 `json:"errorCode"`
	HTTPStatusCode int                 `json:"httpStatusCode"`
	Messages       []map[string]string `json:"messages"`
	Created        string              `json:"created"`
}

func isoNow() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000") + "Z"
}

func requestHost(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, r.Host)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Err(err).Msg("failed to encode response body")
	}
}

// writeCollection renders a list of resources in the collection envelope.
// Each item needs an "id" the entry link can point at; resourceID extracts
// it, falling back to the item's index.
func writeCollection(w http.ResponseWriter, r *http.Request, instanceType string, items []interface{}, resourceID func(int) string) {
	now := isoNow()
	host := requestHost(r)
	entries := make([]entry, 0, len(items))
	for i, item := range items {
		entries = append(entries, entry{
			Base:    fmt.Sprintf("%s/api/instances/%s", host, instanceType),
			Content: item,
			Links:   []link{{Rel: "self", Href: "/" + resourceID(i)}},
			Updated: now,
		})
	}
	writeJSON(w, http.StatusOK, collectionEnvelope{
		Base:    fmt.Sprintf("%s/api/types/%s/instances?per_page=2000", host, instanceType),
		Updated: now,
		Links:   []link{{Rel: "self", Href: "&page=1"}},
		Entries: entries,
	})
}

func writeInstance(w http.ResponseWriter, r *http.Request, instanceType, instanceID string, content interface{}) {
	writeJSON(w, http.StatusOK, instanceEnvelope{
		Base:    fmt.Sprintf("%s/api/instances/%s", requestHost(r), instanceType),
		Content: content,
		Links:   []link{{Rel: "self", Href: "/" + instanceID}},
		Updated: isoNow(),
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]errorBody{
		"error": {
			ErrorCode:      restErrorCode,
			HTTPStatusCode: status,
			Messages:       []map[string]string{{"en-US": message}},
			Created:        isoNow(),
		},
	})
}
