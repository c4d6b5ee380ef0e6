package sqlite

// schema is executed once per connection open. It mirrors spec.md §6
// "Persisted state layout": relational tables for colonies, crabs, missions,
// tasks (with step id, role, prompt, context, condition, retry counter),
// a dependency-edge junction table, runs, and events. Status values are the
// short lowercase strings from spec.md §3/§4.3.
const schema = `
CREATE TABLE IF NOT EXISTS colonies (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	source_repo TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS crabs (
	id               TEXT PRIMARY KEY,
	colony_id        TEXT NOT NULL REFERENCES colonies(id),
	name             TEXT NOT NULL,
	role             TEXT NOT NULL,
	state            TEXT NOT NULL,
	current_task_id  TEXT NOT NULL DEFAULT '',
	current_run_id   TEXT NOT NULL DEFAULT '',
	last_heartbeat   TIMESTAMP NOT NULL,
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_crabs_colony_role ON crabs(colony_id, role);
CREATE INDEX IF NOT EXISTS idx_crabs_colony_state ON crabs(colony_id, state);

CREATE TABLE IF NOT EXISTS missions (
	id            TEXT PRIMARY KEY,
	colony_id     TEXT NOT NULL REFERENCES colonies(id),
	prompt        TEXT NOT NULL,
	workflow_name TEXT NOT NULL DEFAULT '',
	external_ref  TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	workdir_path  TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_missions_colony ON missions(colony_id);

CREATE TABLE IF NOT EXISTS tasks (
	id               TEXT PRIMARY KEY,
	mission_id       TEXT NOT NULL REFERENCES missions(id),
	step_id          TEXT NOT NULL,
	role             TEXT NOT NULL,
	status           TEXT NOT NULL,
	assigned_crab_id TEXT NOT NULL DEFAULT '',
	prompt_template  TEXT NOT NULL DEFAULT '',
	prompt           TEXT NOT NULL DEFAULT '',
	context          TEXT NOT NULL DEFAULT '',
	condition        TEXT NOT NULL DEFAULT '',
	retry_target     TEXT NOT NULL DEFAULT '',
	max_retries      INTEGER NOT NULL DEFAULT 0,
	retry_count      INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_mission ON tasks(mission_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status, created_at);

CREATE TABLE IF NOT EXISTS task_dependencies (
	task_id         TEXT NOT NULL REFERENCES tasks(id),
	prerequisite_id TEXT NOT NULL REFERENCES tasks(id),
	PRIMARY KEY (task_id, prerequisite_id)
);
CREATE INDEX IF NOT EXISTS idx_deps_prereq ON task_dependencies(prerequisite_id);

CREATE TABLE IF NOT EXISTS runs (
	id                TEXT PRIMARY KEY,
	task_id           TEXT NOT NULL REFERENCES tasks(id),
	crab_id           TEXT NOT NULL,
	mission_id        TEXT NOT NULL REFERENCES missions(id),
	workdir_path      TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL,
	progress          TEXT NOT NULL DEFAULT '',
	result            TEXT NOT NULL DEFAULT '',
	summary           TEXT NOT NULL DEFAULT '',
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	latency_ms        INTEGER NOT NULL DEFAULT 0,
	started_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL,
	completed_at      TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_runs_task ON runs(task_id, started_at);

CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	colony_id   TEXT NOT NULL DEFAULT '',
	mission_id  TEXT NOT NULL DEFAULT '',
	subject     TEXT NOT NULL DEFAULT '',
	data_json   TEXT NOT NULL DEFAULT '{}',
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_colony ON events(colony_id, created_at);
`
