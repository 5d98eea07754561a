// internal/listener/notification.go
package listener

import (
	"bytes"
	"net/url"
	"strings"

	perr "priceest/internal/errors"
	"priceest/internal/model"

	"github.com/goccy/go-json"
)

// envelope 는 받아들이는 payload 모양을 한 구조체에 모은 것.
//
//   - MinIO/S3 이벤트: {"EventName":..., "Key":"bucket/obj", "Records":[{"s3":{...}}]}
//   - 평평한 레코드: {"bucket"|"bucketName": ..., "objectKey"|"key": ...}
//
// Records 는 배열이 정상이지만 단일 객체로 오는 producer 도 있어서 RawMessage 로 받는다.
type envelope struct {
	EventName string          `json:"EventName"`
	Records   json.RawMessage `json:"Records"`

	Bucket     string `json:"bucket"`
	BucketName string `json:"bucketName"`
	ObjectKey  string `json:"objectKey"`
	Key        string `json:"key"` // MinIO 이벤트의 최상위 "Key" 도 여기로 들어온다 (bucket/obj)
}

type record struct {
	S3 struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key string `json:"key"`
		} `json:"object"`
	} `json:"s3"`
}

// ParseNotification 은 payload 에서 UpdateNotification 을 뽑는다.
// 실패는 모두 InvalidInput.
func ParseNotification(payload []byte) (model.UpdateNotification, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return model.UpdateNotification{}, perr.InvalidInputf("empty notification payload")
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		// 파이썬 dict repr 처럼 작은따옴표로 온 payload
		if !bytes.ContainsRune(payload, '\'') {
			return model.UpdateNotification{}, perr.InvalidInputf("malformed notification: %v", err)
		}
		fixed := bytes.ReplaceAll(payload, []byte("'"), []byte(`"`))
		if err2 := json.Unmarshal(fixed, &env); err2 != nil {
			return model.UpdateNotification{}, perr.InvalidInputf("malformed notification: %v", err)
		}
	}

	n, err := env.notification()
	if err != nil {
		return model.UpdateNotification{}, err
	}
	if err := model.Validate(&n); err != nil {
		return model.UpdateNotification{}, err
	}
	return n, nil
}

func (e envelope) notification() (model.UpdateNotification, error) {
	recs, err := e.records()
	if err != nil {
		return model.UpdateNotification{}, err
	}
	for _, r := range recs {
		if r.S3.Bucket.Name != "" && r.S3.Object.Key != "" {
			return model.UpdateNotification{
				Bucket:    r.S3.Bucket.Name,
				ObjectKey: unescapeKey(r.S3.Object.Key),
			}, nil
		}
	}

	n := model.UpdateNotification{
		Bucket:    firstNonEmpty(e.Bucket, e.BucketName),
		ObjectKey: firstNonEmpty(e.ObjectKey, e.Key),
	}

	// 레코드 없는 MinIO 이벤트: 최상위 Key 가 "bucket/obj"
	if n.Bucket == "" && e.EventName != "" && e.ObjectKey == "" {
		if b, k, ok := strings.Cut(e.Key, "/"); ok {
			n.Bucket, n.ObjectKey = b, unescapeKey(k)
		}
	}
	return n, nil
}

func (e envelope) records() ([]record, error) {
	raw := bytes.TrimSpace(e.Records)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '{' {
		var one record
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, perr.InvalidInputf("malformed Records: %v", err)
		}
		return []record{one}, nil
	}

	var many []record
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, perr.InvalidInputf("malformed Records: %v", err)
	}
	return many, nil
}

// S3 이벤트의 object key 는 URL 인코딩되어 온다 (공백은 '+').
func unescapeKey(k string) string {
	if u, err := url.QueryUnescape(k); err == nil {
		return u
	}
	return k
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
