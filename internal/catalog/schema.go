/*
Copyright 2025 EPFL-ENAC.

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

package catalog

const schemaDDL = `
CREATE TABLE IF NOT EXISTS folder_state (
	folder_key        TEXT PRIMARY KEY,
	mission_key       TEXT NOT NULL,
	fp                TEXT NOT NULL,
	size_kb            INTEGER NOT NULL DEFAULT 0,
	file_count         INTEGER NOT NULL DEFAULT 0,
	last_checked       INTEGER,
	last_processed     INTEGER,
	processing_time    INTEGER,
	processing_status  TEXT NOT NULL DEFAULT 'pending',
	error_message      TEXT,
	output_path        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_folder_state_folder_key ON folder_state(folder_key);
CREATE INDEX IF NOT EXISTS idx_folder_state_mission_key ON folder_state(mission_key);

CREATE TABLE IF NOT EXISTS potree_metacloud_state (
	mission_key        TEXT PRIMARY KEY,
	fp                TEXT NOT NULL,
	output_path        TEXT NOT NULL DEFAULT '',
	last_checked       INTEGER,
	last_processed     INTEGER,
	processing_time    INTEGER,
	processing_status  TEXT NOT NULL DEFAULT 'pending',
	error_message      TEXT
);
`
