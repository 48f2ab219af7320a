package controllers

import (
	"github.com/rzbill/replog/internal/host"
	"github.com/rzbill/replog/internal/kvview"
)

type healthResp struct {
	Status    string `json:"status"`
	ClusterID string `json:"cluster_id"`
}

// appendReq is the body of POST /v1/streams/{id}/events.
type appendReq struct {
	Events []kvview.Event `json:"events"`
}

type appendResp struct {
	Stream  string `json:"stream"`
	Version uint64 `json:"version"`
}

type viewResp struct {
	Stream  string      `json:"stream"`
	Version uint64      `json:"version"`
	View    kvview.View `json:"view"`
}

type segmentResp struct {
	Stream string         `json:"stream"`
	From   uint64         `json:"from"`
	To     uint64         `json:"to"`
	Events []kvview.Event `json:"events"`
}

type statsResp struct {
	Streams []host.StreamStats `json:"streams"`
}
