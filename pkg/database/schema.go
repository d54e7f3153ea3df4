package database

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_key TEXT NOT NULL UNIQUE,
    run_id TEXT NOT NULL,
    run_number TEXT NOT NULL,
    started_at TEXT NOT NULL,
    completed_at TEXT,
    status TEXT NOT NULL,
    sources INTEGER DEFAULT 0,
    notes TEXT
);

CREATE TABLE IF NOT EXISTS toolchains (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL,
    label TEXT NOT NULL,
    moon_version TEXT NOT NULL,
    moonc_version TEXT NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(id)
);

CREATE TABLE IF NOT EXISTS cells (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL,
    channel TEXT NOT NULL,
    source_index INTEGER NOT NULL,
    source_label TEXT NOT NULL,
    target_index INTEGER NOT NULL,
    target TEXT NOT NULL,
    operation TEXT NOT NULL,
    backend TEXT NOT NULL,
    status TEXT NOT NULL,
    start_time TEXT NOT NULL,
    elapsed_ms INTEGER NOT NULL,
    FOREIGN KEY (run_id) REFERENCES runs(id)
);

CREATE TABLE IF NOT EXISTS checkouts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL,
    source_index INTEGER NOT NULL,
    target TEXT NOT NULL,
    kind TEXT NOT NULL,
    started_at TEXT NOT NULL,
    duration_ms INTEGER NOT NULL,
    status TEXT NOT NULL,
    error TEXT,
    commit_hash TEXT,
    branch TEXT,
    crc32 TEXT,
    size_bytes INTEGER,
    FOREIGN KEY (run_id) REFERENCES runs(id)
);

CREATE INDEX IF NOT EXISTS idx_toolchains_run ON toolchains(run_id);
CREATE INDEX IF NOT EXISTS idx_cells_run ON cells(run_id);
CREATE INDEX IF NOT EXISTS idx_cells_source ON cells(run_id, source_index, target_index);
CREATE INDEX IF NOT EXISTS idx_checkouts_run ON checkouts(run_id);
`
