//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2025 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package retrieval

import "errors"

var (
	// ErrInvalidConfig is the cause of every error returned by
	// Config.Validate. Match with errors.Is.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMeasurementShape is the cause of the error returned by Fit when an
	// oracle response does not have shape signals x batch size.
	ErrMeasurementShape = errors.New("unexpected measurement shape")
)
