// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

/*
Package api provides the Healthbridge HTTP surface using the chi router.

# Routes

	GET  /api/v1/health/live          process liveness
	GET  /api/v1/health/ready         record store and scheduler readiness
	GET  /api/v1/sources              per-source state snapshot
	POST /api/v1/sources/{source}/sync  run one cycle now (rate limited)
	GET  /api/v1/records?from=&to=    canonical rows for a date range
	GET  /api/v1/records/{date}       one canonical row
	POST /scale/upload                Aria scale upload endpoint
	GET  /metrics                     Prometheus exposition

# Scale Uploads

The scale posts a binary packet labeled as a form. The handler reads the
raw body before touching any form parser. Only a well-formed multipart
upload with a file field "dump" uses that field as the packet. Accepted
readings are queued on the scale adapter and its cycle is triggered
asynchronously so the device is never held waiting on a merge. When an
upstream URL is configured the raw body is forwarded with a rewritten Host
and the upstream reply is relayed so the device protocol completes.

# Errors

Error responses share one JSON shape:

	{"error": {"code": "VALIDATION_ERROR", "message": "...", "request_id": "..."}}
*/
package api
