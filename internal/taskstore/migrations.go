package taskstore

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    project TEXT NOT NULL,
    repo_path TEXT NOT NULL,
    main_branch TEXT NOT NULL,
    status TEXT NOT NULL,
    state TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_project ON runs(project);

CREATE TABLE IF NOT EXISTS run_tasks (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    task_id TEXT NOT NULL,
    status TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    PRIMARY KEY (run_id, task_id)
);

CREATE INDEX IF NOT EXISTS idx_run_tasks_status ON run_tasks(status);

CREATE TABLE IF NOT EXISTS batches (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    batch_id INTEGER NOT NULL,
    status TEXT NOT NULL,
    tasks TEXT NOT NULL,
    merge_commit TEXT,
    integration_doctor_passed BOOLEAN,
    canary TEXT,
    completed_at TIMESTAMP,
    PRIMARY KEY (run_id, batch_id)
);

CREATE TABLE IF NOT EXISTS ledger (
    project TEXT NOT NULL,
    task_id TEXT NOT NULL,
    status TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    merge_commit TEXT NOT NULL,
    integration_doctor_passed BOOLEAN NOT NULL,
    completed_at TIMESTAMP NOT NULL,
    run_id TEXT NOT NULL,
    source TEXT NOT NULL,
    PRIMARY KEY (project, task_id)
);

CREATE INDEX IF NOT EXISTS idx_ledger_fingerprint ON ledger(fingerprint);
`
