// Package engagement implements the optimistic social-engagement
// synchronization core: the transactional like mutator, the retryable
// operation queue, the sliding-window rate limiter and the real-time
// subscription multiplexer.
package engagement

import (
	"time"

	"ripple/internal/docstore"
	"ripple/internal/models"
)

// Document field names for engagement state.
const (
	fieldLikes         = "likes"
	fieldLikesCount    = "likesCount"
	fieldComments      = "comments"
	fieldCommentsCount = "commentsCount"
	fieldShares        = "shares"
	fieldSharesCount   = "sharesCount"
	fieldViews         = "views"
	fieldViewsCount    = "viewsCount"
)

// DecodeCounters normalizes a raw document payload into canonical counters.
// Server payloads encode each count either as an explicit integer field or as
// the length of the corresponding array field; both forms are accepted and
// the ambiguity never leaks past this boundary.
func DecodeCounters(data map[string]interface{}) models.Counters {
	c := models.Counters{
		Likes:    countField(data, fieldLikesCount, fieldLikes),
		Comments: countField(data, fieldCommentsCount, fieldComments),
		Shares:   countField(data, fieldSharesCount, fieldShares),
		Views:    countField(data, fieldViewsCount, fieldViews),
	}
	c.Clamp()
	return c
}

// DecodeSnapshot normalizes a watch snapshot. Non-existent documents decode
// to zero counters.
func DecodeSnapshot(snap docstore.Snapshot) models.Counters {
	if !snap.Exists {
		return models.Counters{}
	}
	return DecodeCounters(snap.Data)
}

func countField(data map[string]interface{}, countKey, arrayKey string) int64 {
	if v, ok := data[countKey]; ok {
		if n, ok := asInt64(v); ok {
			return n
		}
	}
	if arr, ok := data[arrayKey].([]interface{}); ok {
		return int64(len(arr))
	}
	return 0
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

// decodeLikes extracts the like set from a raw payload.
func decodeLikes(data map[string]interface{}) []models.LikeRecord {
	arr, ok := data[fieldLikes].([]interface{})
	if !ok {
		return nil
	}
	records := make([]models.LikeRecord, 0, len(arr))
	for _, item := range arr {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		rec := models.LikeRecord{}
		rec.UserID, _ = m["userId"].(string)
		rec.DisplayName, _ = m["displayName"].(string)
		rec.PhotoURL, _ = m["photoURL"].(string)
		if ts, ok := m["timestamp"].(time.Time); ok {
			rec.Timestamp = ts
		}
		if rec.UserID != "" {
			records = append(records, rec)
		}
	}
	return records
}

func encodeLikes(records []models.LikeRecord) []interface{} {
	out := make([]interface{}, 0, len(records))
	for _, rec := range records {
		out = append(out, map[string]interface{}{
			"userId":      rec.UserID,
			"displayName": rec.DisplayName,
			"photoURL":    rec.PhotoURL,
			"timestamp":   rec.Timestamp,
		})
	}
	return out
}
