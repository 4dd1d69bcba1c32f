package objectstore

import (
	"fmt"
	"net/url"
	"strings"

	"stitch/internal/services"
)

// Locator identifies one object as a bucket plus a key.
type Locator struct {
	Bucket string
	Key    string
}

func (l Locator) String() string {
	return "store://" + l.Bucket + "/" + l.Key
}

// ParseLocator accepts either scheme used for object references:
//
//	https://<bucket>.<host>/<key>
//	store://<bucket>/<key>
//
// Anything else, including a missing key, returns ErrInvalidLocator.
func ParseLocator(ref string) (Locator, error) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return Locator{}, services.Wrap(services.ErrInvalidLocator, "", "parse", "empty reference", nil)
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return Locator{}, services.Wrap(services.ErrInvalidLocator, "", "parse", trimmed, err)
	}

	key := strings.TrimPrefix(parsed.Path, "/")

	switch parsed.Scheme {
	case "store":
		if parsed.Host == "" || key == "" {
			return Locator{}, services.Wrap(services.ErrInvalidLocator, "", "parse", trimmed, nil)
		}
		return Locator{Bucket: parsed.Host, Key: key}, nil
	case "https", "http":
		// The bucket is the first host label: bucket.s3.region.host.
		bucket, rest, found := strings.Cut(parsed.Host, ".")
		if !found || bucket == "" || rest == "" || key == "" {
			return Locator{}, services.Wrap(services.ErrInvalidLocator, "", "parse", trimmed, nil)
		}
		return Locator{Bucket: bucket, Key: key}, nil
	default:
		return Locator{}, services.Wrap(services.ErrInvalidLocator, "", "parse", fmt.Sprintf("unsupported scheme %q", parsed.Scheme), nil)
	}
}
