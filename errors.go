// Copyright 2025 the splat-go contributors
// SPDX-License-Identifier: Apache-2.0 OR MIT

package splat

import (
	"errors"
	"fmt"
)

// ErrConfig wraps every configuration error: unsupported parameter values,
// mismatched buffer shapes, missing paired optional inputs, and resource
// budget violations. Such errors are raised before any kernel dispatch; no
// partial output is ever produced alongside one.
var ErrConfig = errors.New("splat: invalid configuration")

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}
