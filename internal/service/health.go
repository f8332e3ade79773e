package service

/*
 Copyright 2019 - 2025 Crunchy Data Solutions, Inc.
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at
      http://www.apache.org/licenses/LICENSE-2.0
 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

import (
	"net/http"
)

// handleHealth returns 200 OK. Used for readiness and liveness probes.
func handleHealth(w http.ResponseWriter, r *http.Request) *appError {
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Type", ContentTypeText)
	w.Write([]byte("OK"))
	return nil
}
