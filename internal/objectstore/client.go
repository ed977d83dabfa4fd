// Copyright 2024 The kangklip Authors
// This file is part of the kangklip server.
//
// The kangklip server is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// Package objectstore wraps the R2 (S3-API-compatible) object store
// named in §6: manifest loads, presigned preview/download URLs, and
// the optional range-GET proxy of §4.6.
package objectstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	kklog "github.com/kangklip/kangklip-server/internal/log"
)

var logger = kklog.NewModuleLogger("objectstore")

// Client is a thin wrapper over the S3 SDK pointed at an R2 endpoint.
type Client struct {
	s3     *s3.S3
	bucket string
}

// New builds a Client against the given R2 endpoint/bucket using the
// configured access key pair.
func New(endpoint, bucket, accessKeyID, secretAccessKey string) (*Client, error) {
	sess, err := session.NewSession(&aws.Config{
		Endpoint:         aws.String(endpoint),
		Region:           aws.String("auto"),
		Credentials:      credentials.NewStaticCredentials(accessKeyID, secretAccessKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: create session: %w", err)
	}
	logger.Info("object store client ready", "endpoint", endpoint, "bucket", bucket)
	return &Client{s3: s3.New(sess), bucket: bucket}, nil
}

// Manifest mirrors the worker-produced manifest.json contract (§6):
// at least {clips: [{file, title, duration}]}. Unknown fields ignored.
type Manifest struct {
	Clips []ManifestClip `json:"clips"`
}

// ManifestClip is one produced clip entry.
type ManifestClip struct {
	File     string  `json:"file"`
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
}

// ErrManifestNotFound means the manifest object does not exist at the
// given prefix; per §6, absence of the manifest after a job has
// succeeded is an Internal error to clients. RangeGet also returns it
// when the clip object itself is missing.
var ErrManifestNotFound = fmt.Errorf("objectstore: manifest not found")

// LoadManifest fetches and decodes <r2Prefix>/manifest.json.
func (c *Client) LoadManifest(ctx context.Context, r2Prefix string) (*Manifest, error) {
	key := manifestKey(r2Prefix)
	out, err := c.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("objectstore: get manifest %s: %w", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("objectstore: read manifest %s: %w", key, err)
	}
	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("objectstore: decode manifest %s: %w", key, err)
	}
	return &m, nil
}

func manifestKey(r2Prefix string) string {
	return trimTrailingSlash(r2Prefix) + "/manifest.json"
}

func clipKey(r2Prefix, clipFile string) string {
	return trimTrailingSlash(r2Prefix) + "/" + clipFile
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

// PresignGET mints a time-limited signed GET URL for the given clip.
func (c *Client) PresignGET(r2Prefix, clipFile string, ttl time.Duration) (string, error) {
	req, _ := c.s3.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(clipKey(r2Prefix, clipFile)),
	})
	url, err := req.Presign(ttl)
	if err != nil {
		return "", fmt.Errorf("objectstore: presign %s: %w", clipFile, err)
	}
	return url, nil
}

// RangeGet proxies a ranged GET of a clip object, returning the body,
// whether the store returned a partial (206) response, the
// content-range header if present, and the content type.
type RangeGetResult struct {
	Body          io.ReadCloser
	Partial       bool
	ContentRange  string
	ContentType   string
	ContentLength int64
}

// RangeGet performs the range-proxy passthrough of §4.6.
func (c *Client) RangeGet(ctx context.Context, r2Prefix, clipFile, rangeHeader string) (*RangeGetResult, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(clipKey(r2Prefix, clipFile)),
	}
	if rangeHeader != "" {
		input.Range = aws.String(rangeHeader)
	}
	out, err := c.s3.GetObjectWithContext(ctx, input)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("objectstore: range get %s: %w", clipFile, err)
	}
	contentType := "video/mp4"
	if out.ContentType != nil && *out.ContentType != "" {
		contentType = *out.ContentType
	}
	res := &RangeGetResult{
		Body:        out.Body,
		ContentType: contentType,
	}
	if out.ContentRange != nil {
		res.Partial = true
		res.ContentRange = *out.ContentRange
	}
	if out.ContentLength != nil {
		res.ContentLength = *out.ContentLength
	}
	return res, nil
}

func isNotFound(err error) bool {
	type awsErr interface{ Code() string }
	if ae, ok := err.(awsErr); ok {
		return ae.Code() == s3.ErrCodeNoSuchKey || ae.Code() == "NotFound"
	}
	return false
}
