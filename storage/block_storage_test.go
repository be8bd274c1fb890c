package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/stretchr/testify/assert"
)

func TestIsNotFound(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "head object 404", err: awserr.NewRequestFailure(awserr.New("NotFound", "Not Found", nil), 404, "req"), want: true},
		{name: "no such key", err: awserr.New(s3.ErrCodeNoSuchKey, "missing", nil), want: true},
		{name: "wrapped", err: fmt.Errorf("head: %w", awserr.New("NotFound", "Not Found", nil)), want: true},
		{name: "forbidden", err: awserr.NewRequestFailure(awserr.New("Forbidden", "Forbidden", nil), 403, "req")},
		{name: "expired credentials", err: awserr.New("ExpiredToken", "token expired", nil)},
		{name: "network", err: errors.New("dial tcp: connection refused")},
		{name: "nil"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isNotFound(tc.err))
		})
	}
}
