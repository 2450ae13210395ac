package db

import "fmt"

type dialectTypes struct {
	id        string
	key       string
	timestamp string
	text      string
}

func typesFor(dialect string) dialectTypes {
	switch dialect {
	case MySQL:
		return dialectTypes{
			id:        "BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY",
			key:       "VARCHAR(191)",
			timestamp: "DATETIME(6)",
			text:      "TEXT",
		}
	case Postgres:
		return dialectTypes{
			id:        "BIGSERIAL PRIMARY KEY",
			key:       "VARCHAR(191)",
			timestamp: "TIMESTAMPTZ",
			text:      "TEXT",
		}
	default:
		return dialectTypes{
			id:        "INTEGER PRIMARY KEY AUTOINCREMENT",
			key:       "TEXT",
			timestamp: "DATETIME",
			text:      "TEXT",
		}
	}
}

func schema(dialect string) []string {
	t := typesFor(dialect)
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tasks (
		sku %[1]s NOT NULL PRIMARY KEY,
		inventory_num INTEGER NOT NULL DEFAULT 0,
		sales_num INTEGER NOT NULL DEFAULT 0,
		sale_day INTEGER,
		labels %[3]s,
		charge %[1]s,
		status INTEGER NOT NULL DEFAULT 0,
		plan INTEGER NOT NULL DEFAULT 0,
		plan_snapshot INTEGER,
		created_at %[2]s NOT NULL,
		updated_at %[2]s NOT NULL,
		price_reduction_failure_count INTEGER NOT NULL DEFAULT 0,
		image_urls %[3]s,
		notes %[3]s,
		reject_reason %[3]s,
		checked_at %[2]s,
		reviewed_at %[2]s,
		timeout_anchor %[2]s,
		version BIGINT NOT NULL DEFAULT 1
	)`, t.key, t.timestamp, t.text),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS task_history (
		id %[4]s,
		sku %[1]s NOT NULL,
		completed_sale_day INTEGER,
		charge %[1]s,
		plan INTEGER NOT NULL,
		inventory_num INTEGER NOT NULL,
		sales_num INTEGER NOT NULL,
		labels %[3]s,
		notes %[3]s,
		image_urls %[3]s,
		review_status VARCHAR(32) NOT NULL,
		completed_at %[2]s NOT NULL
	)`, t.key, t.timestamp, t.text, t.id),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS inventory (
		sku %[1]s NOT NULL PRIMARY KEY,
		inventory_num INTEGER NOT NULL DEFAULT 0,
		sales_num INTEGER NOT NULL DEFAULT 0,
		sale_day INTEGER,
		labels %[3]s,
		charge %[1]s,
		created_at %[2]s NOT NULL,
		updated_at %[2]s NOT NULL
	)`, t.key, t.timestamp, t.text),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS owner_patterns (
		position INTEGER NOT NULL PRIMARY KEY,
		pattern %[1]s NOT NULL,
		owner %[1]s NOT NULL
	)`, t.key),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS import_runs (
		id %[3]s,
		source %[4]s NOT NULL,
		started_at %[2]s NOT NULL,
		ended_at %[2]s,
		status VARCHAR(32) NOT NULL DEFAULT 'pending',
		inserted INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		promoted INTEGER NOT NULL DEFAULT 0,
		demoted INTEGER NOT NULL DEFAULT 0,
		forced_checks INTEGER NOT NULL DEFAULT 0,
		error %[4]s
	)`, t.key, t.timestamp, t.id, t.text),
	}
}

func indexes(dialect string) []string {
	ifNotExists := "IF NOT EXISTS "
	if dialect == MySQL {
		ifNotExists = ""
	}
	return []string{
		"CREATE INDEX " + ifNotExists + "idx_tasks_charge ON tasks(charge)",
		"CREATE INDEX " + ifNotExists + "idx_task_history_sku ON task_history(sku)",
		"CREATE INDEX " + ifNotExists + "idx_task_history_completed_at ON task_history(completed_at)",
		"CREATE INDEX " + ifNotExists + "idx_import_runs_started_at ON import_runs(started_at)",
	}
}
