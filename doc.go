// Copyright 2025 The FireREST Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package firerest is a typed client for the Firestore REST protocol.
//
// It covers the value codec (native Go values to and from the tagged wire
// Value representation), structured queries and aggregations built through
// chained builder calls, non-atomic write batches, and transactions with
// a retry-with-backoff driver.
//
// The client performs no local query evaluation: filtering, sorting and
// aggregation are delegated to the remote service. Builders do no I/O of
// their own; terminal calls (Execute, Get, Commit) hand the compiled wire
// request to the Transport the Client was constructed with.
//
// A minimal session looks like:
//
//	c := firerest.NewClient("my-project", &firerest.HTTPTransport{
//		Tokens: auth.StaticTokenSource{AccessToken: token},
//	})
//	docs, err := c.Query("cities").
//		Where("population", ">", 100000).
//		OrderBy("population", firerest.Descending).
//		Limit(10).
//		Execute(ctx)
//
// All blocking operations take a context.Context; deadlines and
// cancellation propagate to the underlying HTTP requests.
package firerest
