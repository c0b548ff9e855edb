package sqlbackend

// sqliteSchema mirrors the teacher's SQLiteStore.createTables
// (graph/store/sqlite.go): CREATE TABLE IF NOT EXISTS plus explicit
// indexes, JSON payloads kept in TEXT columns since SQLite has no native
// JSON type.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS executions (
	id VARCHAR(64) PRIMARY KEY,
	flow_id VARCHAR(255) NOT NULL,
	flow_version VARCHAR(64) NOT NULL,
	current_step_id VARCHAR(255) NOT NULL,
	status VARCHAR(32) NOT NULL,
	context TEXT NOT NULL,
	step_count INTEGER NOT NULL DEFAULT 0,
	created_at VARCHAR(40) NOT NULL,
	updated_at VARCHAR(40) NOT NULL,
	wake_at VARCHAR(40),
	wait_reason TEXT,
	wait_started_at VARCHAR(40),
	current_step_started_at VARCHAR(40),
	active_resume_token VARCHAR(255),
	error_json TEXT,
	history_json TEXT,
	tenant_id VARCHAR(255),
	parent_execution_id VARCHAR(64),
	idempotency_key VARCHAR(255),
	idempotency_expires_at VARCHAR(40),
	cancellation_json TEXT,
	timeout_config_json TEXT,
	metadata_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
CREATE INDEX IF NOT EXISTS idx_executions_wake_at ON executions(status, wake_at);
CREATE INDEX IF NOT EXISTS idx_executions_parent ON executions(parent_execution_id);
CREATE INDEX IF NOT EXISTS idx_executions_idempotency ON executions(flow_id, idempotency_key);

CREATE TABLE IF NOT EXISTS locks (
	lock_key VARCHAR(255) PRIMARY KEY,
	expires_at VARCHAR(40) NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id VARCHAR(64) PRIMARY KEY,
	execution_id VARCHAR(64) NOT NULL,
	step_id VARCHAR(255) NOT NULL,
	handler VARCHAR(255) NOT NULL,
	status VARCHAR(32) NOT NULL,
	input_json TEXT NOT NULL,
	result_json TEXT,
	error_json TEXT,
	runner_id VARCHAR(255),
	instance_id VARCHAR(255),
	heartbeat_at VARCHAR(40),
	heartbeat_ms BIGINT NOT NULL DEFAULT 0,
	attempts INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 0,
	checkpoint_json TEXT,
	progress_json TEXT,
	created_at VARCHAR(40) NOT NULL,
	updated_at VARCHAR(40) NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_status_heartbeat ON jobs(status, heartbeat_at);

CREATE TABLE IF NOT EXISTS flows (
	flow_id VARCHAR(255) NOT NULL,
	version VARCHAR(64) NOT NULL,
	definition_json TEXT NOT NULL,
	created_at VARCHAR(40) NOT NULL,
	PRIMARY KEY (flow_id, version)
);

CREATE TABLE IF NOT EXISTS table_definitions (
	table_id VARCHAR(255) PRIMARY KEY,
	columns_json TEXT NOT NULL,
	created_at VARCHAR(40) NOT NULL,
	updated_at VARCHAR(40) NOT NULL
);

CREATE TABLE IF NOT EXISTS table_rows (
	row_id VARCHAR(64) PRIMARY KEY,
	table_id VARCHAR(255) NOT NULL,
	row_json TEXT NOT NULL,
	created_at VARCHAR(40) NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_table_rows_table ON table_rows(table_id);

CREATE TABLE IF NOT EXISTS wal_entries (
	id VARCHAR(64) PRIMARY KEY,
	table_id VARCHAR(255) NOT NULL,
	tenant_id VARCHAR(255),
	data_json TEXT NOT NULL,
	pipe_id VARCHAR(255) NOT NULL,
	execution_id VARCHAR(64) NOT NULL,
	flow_id VARCHAR(255) NOT NULL,
	step_id VARCHAR(255) NOT NULL,
	error_message TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	created_at VARCHAR(40) NOT NULL,
	acked INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_wal_pending ON wal_entries(acked, created_at);

CREATE TABLE IF NOT EXISTS resume_tokens (
	token VARCHAR(255) PRIMARY KEY,
	execution_id VARCHAR(64) NOT NULL,
	step_id VARCHAR(255) NOT NULL,
	status VARCHAR(32) NOT NULL,
	created_at VARCHAR(40) NOT NULL,
	expires_at VARCHAR(40),
	used_at VARCHAR(40),
	metadata_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_tokens_execution ON resume_tokens(execution_id);

CREATE TABLE IF NOT EXISTS context_blobs (
	execution_id VARCHAR(64) NOT NULL,
	context_key VARCHAR(255) NOT NULL,
	value_json TEXT NOT NULL,
	PRIMARY KEY (execution_id, context_key)
);
`

// mysqlSchema mirrors the teacher's MySQLStore.createTables
// (graph/store/mysql.go): InnoDB, utf8mb4, explicit INDEX/KEY clauses
// inline with CREATE TABLE, and JSON columns for payloads the SQLite
// schema keeps in TEXT.
const mysqlSchema = `
CREATE TABLE IF NOT EXISTS executions (
	id VARCHAR(64) PRIMARY KEY,
	flow_id VARCHAR(255) NOT NULL,
	flow_version VARCHAR(64) NOT NULL,
	current_step_id VARCHAR(255) NOT NULL,
	status VARCHAR(32) NOT NULL,
	context JSON NOT NULL,
	step_count INT NOT NULL DEFAULT 0,
	created_at VARCHAR(40) NOT NULL,
	updated_at VARCHAR(40) NOT NULL,
	wake_at VARCHAR(40),
	wait_reason TEXT,
	wait_started_at VARCHAR(40),
	current_step_started_at VARCHAR(40),
	active_resume_token VARCHAR(255),
	error_json JSON,
	history_json JSON,
	tenant_id VARCHAR(255),
	parent_execution_id VARCHAR(64),
	idempotency_key VARCHAR(255),
	idempotency_expires_at VARCHAR(40),
	cancellation_json JSON,
	timeout_config_json JSON,
	metadata_json JSON,
	INDEX idx_executions_status (status),
	INDEX idx_executions_wake_at (status, wake_at),
	INDEX idx_executions_parent (parent_execution_id),
	INDEX idx_executions_idempotency (flow_id, idempotency_key)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

CREATE TABLE IF NOT EXISTS locks (
	lock_key VARCHAR(255) PRIMARY KEY,
	expires_at VARCHAR(40) NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

CREATE TABLE IF NOT EXISTS jobs (
	id VARCHAR(64) PRIMARY KEY,
	execution_id VARCHAR(64) NOT NULL,
	step_id VARCHAR(255) NOT NULL,
	handler VARCHAR(255) NOT NULL,
	status VARCHAR(32) NOT NULL,
	input_json JSON NOT NULL,
	result_json JSON,
	error_json JSON,
	runner_id VARCHAR(255),
	instance_id VARCHAR(255),
	heartbeat_at VARCHAR(40),
	heartbeat_ms BIGINT NOT NULL DEFAULT 0,
	attempts INT NOT NULL DEFAULT 0,
	max_attempts INT NOT NULL DEFAULT 0,
	checkpoint_json JSON,
	progress_json JSON,
	created_at VARCHAR(40) NOT NULL,
	updated_at VARCHAR(40) NOT NULL,
	INDEX idx_jobs_status (status),
	INDEX idx_jobs_status_heartbeat (status, heartbeat_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

CREATE TABLE IF NOT EXISTS flows (
	flow_id VARCHAR(255) NOT NULL,
	version VARCHAR(64) NOT NULL,
	definition_json JSON NOT NULL,
	created_at VARCHAR(40) NOT NULL,
	PRIMARY KEY (flow_id, version)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

CREATE TABLE IF NOT EXISTS table_definitions (
	table_id VARCHAR(255) PRIMARY KEY,
	columns_json JSON NOT NULL,
	created_at VARCHAR(40) NOT NULL,
	updated_at VARCHAR(40) NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

CREATE TABLE IF NOT EXISTS table_rows (
	row_id VARCHAR(64) PRIMARY KEY,
	table_id VARCHAR(255) NOT NULL,
	row_json JSON NOT NULL,
	created_at VARCHAR(40) NOT NULL,
	INDEX idx_table_rows_table (table_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

CREATE TABLE IF NOT EXISTS wal_entries (
	id VARCHAR(64) PRIMARY KEY,
	table_id VARCHAR(255) NOT NULL,
	tenant_id VARCHAR(255),
	data_json JSON NOT NULL,
	pipe_id VARCHAR(255) NOT NULL,
	execution_id VARCHAR(64) NOT NULL,
	flow_id VARCHAR(255) NOT NULL,
	step_id VARCHAR(255) NOT NULL,
	error_message TEXT NOT NULL,
	attempts INT NOT NULL DEFAULT 0,
	created_at VARCHAR(40) NOT NULL,
	acked TINYINT NOT NULL DEFAULT 0,
	INDEX idx_wal_pending (acked, created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

CREATE TABLE IF NOT EXISTS resume_tokens (
	token VARCHAR(255) PRIMARY KEY,
	execution_id VARCHAR(64) NOT NULL,
	step_id VARCHAR(255) NOT NULL,
	status VARCHAR(32) NOT NULL,
	created_at VARCHAR(40) NOT NULL,
	expires_at VARCHAR(40),
	used_at VARCHAR(40),
	metadata_json JSON,
	INDEX idx_tokens_execution (execution_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

CREATE TABLE IF NOT EXISTS context_blobs (
	execution_id VARCHAR(64) NOT NULL,
	context_key VARCHAR(255) NOT NULL,
	value_json JSON NOT NULL,
	PRIMARY KEY (execution_id, context_key)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`
