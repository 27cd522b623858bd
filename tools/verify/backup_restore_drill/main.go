// Command backup_restore_drill fills a database with finished jobs, backs it
// up with VACUUM INTO, reopens the copy and reports backup and restore times.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/basket/clawboard/internal/persistence"
)

const jobCount = 40

func main() {
	ctx := context.Background()
	baseDir, err := os.MkdirTemp("", "clawboard-backup-drill-*")
	if err != nil {
		fmt.Printf("mktemp_error=%v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(baseDir)

	dbPath := filepath.Join(baseDir, "clawboard.db")
	backupPath := filepath.Join(baseDir, "backup.db")
	restorePath := filepath.Join(baseDir, "restore.db")

	store, err := persistence.Open(dbPath, nil)
	if err != nil {
		fmt.Printf("open_store_error=%v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	project, err := store.CreateProject(ctx, "backup-drill", "", "")
	if err != nil {
		fmt.Printf("create_project_error=%v\n", err)
		os.Exit(1)
	}
	for i := 0; i < jobCount; i++ {
		jobID, err := store.EnqueueJob(ctx, persistence.JobKindMeeting, project.ID, fmt.Sprintf(`{"prompt":"backup-%d"}`, i))
		if err != nil {
			fmt.Printf("enqueue_error=%v\n", err)
			os.Exit(1)
		}
		job, err := store.ClaimNextJob(ctx)
		if err != nil || job == nil {
			fmt.Printf("claim_job_error=%v job=%v\n", err, job == nil)
			os.Exit(1)
		}
		if err := store.StartJobRun(ctx, jobID, job.LeaseOwner); err != nil {
			fmt.Printf("start_job_error=%v\n", err)
			os.Exit(1)
		}
		if err := store.CompleteJob(ctx, jobID, `{"status":"completed"}`); err != nil {
			fmt.Printf("complete_job_error=%v\n", err)
			os.Exit(1)
		}
	}

	backupStart := time.Now().UTC()
	if _, err := store.DB().ExecContext(ctx, `VACUUM INTO ?;`, backupPath); err != nil {
		fmt.Printf("backup_error=%v\n", err)
		os.Exit(1)
	}
	backupEnd := time.Now().UTC()

	backupBytes, err := os.ReadFile(backupPath)
	if err != nil {
		fmt.Printf("read_backup_error=%v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(restorePath, backupBytes, 0o644); err != nil {
		fmt.Printf("write_restore_error=%v\n", err)
		os.Exit(1)
	}
	restoreStart := time.Now().UTC()
	restoreStore, err := persistence.Open(restorePath, nil)
	if err != nil {
		fmt.Printf("open_restore_error=%v\n", err)
		os.Exit(1)
	}
	defer restoreStore.Close()
	restoreEnd := time.Now().UTC()

	var jobsRestored, eventsRestored int
	if err := restoreStore.DB().QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE status = ?;`, persistence.JobStatusSucceeded).Scan(&jobsRestored); err != nil {
		fmt.Printf("count_jobs_error=%v\n", err)
		os.Exit(1)
	}
	if err := restoreStore.DB().QueryRowContext(ctx, `SELECT COUNT(1) FROM job_events;`).Scan(&eventsRestored); err != nil {
		fmt.Printf("count_events_error=%v\n", err)
		os.Exit(1)
	}

	fmt.Printf("backup_started=%s\n", backupStart.Format(time.RFC3339Nano))
	fmt.Printf("backup_completed=%s\n", backupEnd.Format(time.RFC3339Nano))
	fmt.Printf("restore_started=%s\n", restoreStart.Format(time.RFC3339Nano))
	fmt.Printf("restore_completed=%s\n", restoreEnd.Format(time.RFC3339Nano))
	fmt.Printf("rpo_duration=%s\n", backupEnd.Sub(backupStart))
	fmt.Printf("rto_duration=%s\n", restoreEnd.Sub(restoreStart))
	fmt.Printf("restored_jobs=%d\n", jobsRestored)
	fmt.Printf("restored_job_events=%d\n", eventsRestored)

	if jobsRestored < jobCount || eventsRestored == 0 {
		fmt.Println("VERDICT FAIL")
		os.Exit(1)
	}
	fmt.Println("VERDICT PASS")
}
