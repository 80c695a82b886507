// Copyright (c) 2026 dotandev
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

// Package rewrite replaces calls into the obfuscator's memory-access helpers
// with the direct typed load/store they wrap, both at each call site and
// inside the helper bodies themselves.
package rewrite

import "github.com/dotandev/wasm-deobfuscator/internal/classify"

// helperMap gives call-site rewriting a single lookup across both
// load and store helpers, keyed by function index.
type helperMap struct {
	loads  map[uint32]classify.Helper
	stores map[uint32]classify.Helper
}

func newHelperMap(cls *classify.Result) helperMap {
	return helperMap{loads: cls.Loads, stores: cls.Stores}
}

func (h helperMap) lookup(funcIdx uint32) (classify.Helper, bool) {
	if helper, ok := h.loads[funcIdx]; ok {
		return helper, true
	}
	if helper, ok := h.stores[funcIdx]; ok {
		return helper, true
	}
	return classify.Helper{}, false
}
