// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hypersync

var (
	version    = "0.1.0" // manually set semantic version number
	commitHash string    // automatically set git commit hash

	// Version is the reported module version, suffixed with the commit
	// hash when one was linked in at build time.
	Version = func() string {
		if commitHash != "" {
			return version + "-" + commitHash
		}
		return version + "-dev"
	}()
)
