package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"
)

func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// fail writes {"error": msg}, the only error shape the API returns.
func fail(w http.ResponseWriter, status int, msg string) {
	respond(w, status, struct {
		Error string `json:"error"`
	}{msg})
}

// parseVersion reads a version query value; an empty value yields def.
func parseVersion(s string, def uint64) (uint64, bool) {
	if s == "" {
		return def, true
	}
	v, err := strconv.ParseUint(s, 10, 64)
	return v, err == nil
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
