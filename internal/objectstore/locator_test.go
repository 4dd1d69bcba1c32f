package objectstore_test

import (
	"errors"
	"testing"

	"stitch/internal/objectstore"
	"stitch/internal/services"
)

func TestParseLocator(t *testing.T) {
	cases := []struct {
		name    string
		ref     string
		want    objectstore.Locator
		invalid bool
	}{
		{
			name: "virtual hosted https",
			ref:  "https://virtual-dressing-room.s3.ap-south-1.amazonaws.com/datasets/image/person_7.jpg",
			want: objectstore.Locator{Bucket: "virtual-dressing-room", Key: "datasets/image/person_7.jpg"},
		},
		{
			name: "store scheme",
			ref:  "store://virtual-dressing-room/results/try_on_result_7.jpg",
			want: objectstore.Locator{Bucket: "virtual-dressing-room", Key: "results/try_on_result_7.jpg"},
		},
		{
			name:    "empty",
			ref:     "",
			invalid: true,
		},
		{
			name:    "missing key",
			ref:     "https://bucket.example.com/",
			invalid: true,
		},
		{
			name:    "host without bucket label",
			ref:     "https://localhost/key.jpg",
			invalid: true,
		},
		{
			name:    "unsupported scheme",
			ref:     "ftp://bucket.example.com/key.jpg",
			invalid: true,
		},
		{
			name:    "store scheme without key",
			ref:     "store://bucket",
			invalid: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			locator, err := objectstore.ParseLocator(tc.ref)
			if tc.invalid {
				if !errors.Is(err, services.ErrInvalidLocator) {
					t.Fatalf("expected ErrInvalidLocator, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLocator failed: %v", err)
			}
			if locator != tc.want {
				t.Fatalf("expected %#v, got %#v", tc.want, locator)
			}
		})
	}
}

func TestResultKey(t *testing.T) {
	if got := objectstore.ResultKey(42); got != "results/try_on_result_42.jpg" {
		t.Fatalf("unexpected result key: %q", got)
	}
}
