package storage

import (
	"context"
	"strings"
	"testing"
)

func TestNewMinIOConnection(t *testing.T) {
	tests := []struct {
		name      string
		endpoint  string
		accessKey string
		secretKey string
		useSSL    bool
		expectErr bool
	}{
		{
			name:      "valid connection parameters",
			endpoint:  "localhost:9000",
			accessKey: "testkey",
			secretKey: "testsecret",
			useSSL:    false,
			expectErr: false,
		},
		{
			name:      "SSL connection",
			endpoint:  "localhost:9000",
			accessKey: "testkey",
			secretKey: "testsecret",
			useSSL:    true,
			expectErr: false,
		},
		{
			name:      "empty endpoint should error during construction",
			endpoint:  "",
			accessKey: "testkey",
			secretKey: "testsecret",
			useSSL:    false,
			expectErr: true, // Constructor validates endpoint
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			minioConn, err := NewMinIOConnection(tt.endpoint, tt.accessKey, tt.secretKey, "", tt.useSSL)

			if tt.expectErr && err == nil {
				t.Error("expected an error, got none")
				return
			}

			if !tt.expectErr && err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if !tt.expectErr {
				if minioConn == nil {
					t.Error("MinIO connection should not be nil")
				}
				if minioConn.MinIOClient == nil {
					t.Error("MinIO client should not be nil")
				}
			}
		})
	}
}

func TestMinIO_SanitizeBucketName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "normal name",
			input:    "mybucket",
			expected: "mybucket",
		},
		{
			name:     "uppercase to lowercase",
			input:    "MyBucket",
			expected: "mybucket",
		},
		{
			name:     "underscores to dashes",
			input:    "my_bucket_name",
			expected: "my-bucket-name",
		},
		{
			name:     "spaces to dashes",
			input:    "my bucket name",
			expected: "my-bucket-name",
		},
		{
			name:     "special characters removed",
			input:    "my@bucket#name$",
			expected: "mybucketname",
		},
		{
			name:     "numbers preserved",
			input:    "bucket123",
			expected: "bucket123",
		},
		{
			name:     "complex case",
			input:    "My_Bucket Name@123#Test",
			expected: "my-bucket-name123test",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "only special characters",
			input:    "@#$%",
			expected: "",
		},
		{
			name:     "mixed valid and invalid",
			input:    "valid-name@invalid#chars",
			expected: "valid-nameinvalidchars",
		},
	}

	minioConn := &MinIO{}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := minioConn.SanitizeBucketName(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeBucketName(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestMinIO_NilClient(t *testing.T) {
	minioConn := &MinIO{MinIOClient: nil}
	ctx := context.Background()

	if err := minioConn.EnsureBucket(ctx, "test-bucket"); err == nil {
		t.Error("EnsureBucket should fail without a client")
	}
	if _, err := minioConn.PutObject(ctx, "bucket", "file.txt", strings.NewReader("x")); err == nil {
		t.Error("PutObject should fail without a client")
	}
	if _, _, err := minioConn.GetObject(ctx, "bucket", "file.txt"); err == nil {
		t.Error("GetObject should fail without a client")
	}
	if _, err := minioConn.ObjectExists(ctx, "bucket", "key"); err == nil {
		t.Error("ObjectExists should fail without a client")
	}
	if err := minioConn.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck should fail without a client")
	}
	if err := minioConn.DeleteObject(ctx, "bucket", "key"); err == nil {
		t.Error("DeleteObject should fail without a client")
	}
}

func TestNewS3_EmptyBucket(t *testing.T) {
	minioConn := &MinIO{MinIOClient: nil}

	if _, err := NewS3(context.Background(), minioConn, "@@@"); err == nil {
		t.Error("NewS3 should reject a bucket name that sanitises to nothing")
	}
}
