// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/unisim/upgradectl/internal/auth"
)

const (
	installedVersion     = "5.3.0"
	installedFullVersion = "Unity 5.3.0.0 (Release, Build 120, 2023-03-18 19:02:01, 5.3.0.0.5.120)"
)

type basicSystemInfo struct {
	ID                  string `json:"id"`
	Model               string `json:"model"`
	Name                string `json:"name"`
	SoftwareVersion     string `json:"softwareVersion"`
	SoftwareFullVersion string `json:"softwareFullVersion"`
	APIVersion          string `json:"apiVersion"`
	EarliestAPIVersion  string `json:"earliestApiVersion"`
}

type roleRef struct {
	ID string `json:"id"`
}

type userRef struct {
	ID string `json:"id"`
}

type loginSessionInfo struct {
	Roles                    []roleRef `json:"roles"`
	Domain                   string    `json:"domain"`
	User                     userRef   `json:"user"`
	ID                       string    `json:"id"`
	IdleTimeout              int       `json:"idleTimeout"`
	IsPasswordChangeRequired bool      `json:"isPasswordChangeRequired"`
}

type softwarePackage struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type firmwarePackage struct {
	Name               string    `json:"name"`
	Version            string    `json:"version"`
	ReleaseDate        time.Time `json:"releaseDate"`
	UpgradedDriveCount int       `json:"upgradedeDriveCount"`
	EstimatedTime      int       `json:"estimatedTime"`
	IsNewVersion       bool      `json:"isNewVersion"`
}

type installedSoftwareVersion struct {
	ID              string            `json:"id"`
	Version         string            `json:"version"`
	Revision        int               `json:"revision"`
	ReleaseDate     time.Time         `json:"releaseDate"`
	FullVersion     string            `json:"fullVersion"`
	Languages       []softwarePackage `json:"languages"`
	HotFixes        []string          `json:"hotFixes"`
	PackageVersions []softwarePackage `json:"packageVersions"`
	DriveFirmware   []firmwarePackage `json:"driveFirmware"`
}

func defaultInstalledSoftware() installedSoftwareVersion {
	return installedSoftwareVersion{
		ID:          "0",
		Version:     installedVersion,
		Revision:    120,
		ReleaseDate: time.Date(2023, 3, 18, 19, 2, 1, 0, time.UTC),
		FullVersion: installedFullVersion,
		Languages: []softwarePackage{
			{Name: "English", Version: installedVersion},
			{Name: "Chinese", Version: installedVersion},
		},
		HotFixes: []string{"HF1", "HF2"},
		PackageVersions: []softwarePackage{
			{Name: "Base", Version: installedVersion},
			{Name: "Management", Version: installedVersion},
		},
		DriveFirmware: []firmwarePackage{{
			Name:               "Drive Firmware Package 1",
			Version:            "1.2.3",
			ReleaseDate:        time.Date(2023, 3, 18, 19, 2, 1, 0, time.UTC),
			UpgradedDriveCount: 24,
			EstimatedTime:      30,
			IsNewVersion:       false,
		}},
	}
}

// getBasicSystemInfo is the one unauthenticated endpoint; clients probe it
// to discover the API version before logging in.
func (s *Server) getBasicSystemInfo(w http.ResponseWriter, r *http.Request) {
	info := basicSystemInfo{
		ID:                  "0",
		Model:               "Unity 380F",
		Name:                "CKM01204905476",
		SoftwareVersion:     installedVersion,
		SoftwareFullVersion: installedFullVersion,
		APIVersion:          "13.0",
		EarliestAPIVersion:  "4.0",
	}
	writeCollection(w, r, "basicSystemInfo", []interface{}{info}, func(int) string { return info.ID })
}

// getLoginSessionInfo doubles as the login endpoint: a successful basic-auth
// request mints a CSRF token returned both as a cookie and a header.
func (s *Server) getLoginSessionInfo(w http.ResponseWriter, r *http.Request, user *auth.User) {
	token, err := s.tokens.Issue(user.Name)
	if err != nil {
		log.Err(err).Msg("failed to issue CSRF token")
		writeError(w, http.StatusInternalServerError, "Failed to create login session")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     csrfTokenName,
		Value:    token,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   3600,
	})
	w.Header().Set(csrfTokenName, token)

	info := loginSessionInfo{
		Roles:       []roleRef{{ID: user.Role}},
		Domain:      user.Domain,
		User:        userRef{ID: user.ID},
		ID:          token,
		IdleTimeout: 3600,
	}
	writeInstance(w, r, "loginSessionInfo", token, info)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request, _ *auth.User) {
	if cookie, err := r.Cookie(csrfTokenName); err == nil {
		s.tokens.Revoke(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: csrfTokenName, Value: "", MaxAge: -1})
	writeInstance(w, r, "logoutInfo", "0", map[string]string{"message": "Logged out successfully"})
}

func (s *Server) getUsers(w http.ResponseWriter, r *http.Request, _ *auth.User) {
	users := auth.Users()
	items := make([]interface{}, len(users))
	for i, u := range users {
		items[i] = userRef{ID: u.ID}
	}
	writeCollection(w, r, "user", items, func(i int) string { return users[i].ID })
}

func (s *Server) getInstalledSoftwareVersions(w http.ResponseWriter, r *http.Request, _ *auth.User) {
	installed := defaultInstalledSoftware()
	writeCollection(w, r, "installedSoftwareVersion", []interface{}{installed}, func(int) string { return installed.ID })
}

func (s *Server) getInstalledSoftwareVersion(w http.ResponseWriter, r *http.Request, _ *auth.User) {
	id := mux.Vars(r)["id"]
	installed := defaultInstalledSoftware()
	if id != installed.ID {
		writeError(w, http.StatusNotFound, "Installed software version not found")
		return
	}
	writeInstance(w, r, "installedSoftwareVersion", id, installed)
}
