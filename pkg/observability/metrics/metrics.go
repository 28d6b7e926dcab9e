package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	reconcileCreated  atomic.Int64
	reconcileUpdated  atomic.Int64
	reconcileDeleted  atomic.Int64
	reconcileRejected atomic.Int64
	gateDeclined      atomic.Int64
	chartCacheHits    atomic.Int64
	chartCacheMisses  atomic.Int64
	auditRowsAppended atomic.Int64
)

func Init() {}

func IncReconcileCreated()  { reconcileCreated.Add(1) }
func IncReconcileUpdated()  { reconcileUpdated.Add(1) }
func IncReconcileDeleted()  { reconcileDeleted.Add(1) }
func IncReconcileRejected() { reconcileRejected.Add(1) }
func IncGateDeclined()      { gateDeclined.Add(1) }
func IncChartCacheHit()     { chartCacheHits.Add(1) }
func IncChartCacheMiss()    { chartCacheMisses.Add(1) }
func IncAuditRows(n int)    { auditRowsAppended.Add(int64(n)) }

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP renalink_reconcile_prescriptions_created_total Prescriptions reconciled into medical files on create.\n")
	fmt.Fprintf(w, "# TYPE renalink_reconcile_prescriptions_created_total counter\n")
	fmt.Fprintf(w, "renalink_reconcile_prescriptions_created_total %d\n", reconcileCreated.Load())

	fmt.Fprintf(w, "# HELP renalink_reconcile_prescriptions_updated_total Prescriptions retracted and reapplied on update.\n")
	fmt.Fprintf(w, "# TYPE renalink_reconcile_prescriptions_updated_total counter\n")
	fmt.Fprintf(w, "renalink_reconcile_prescriptions_updated_total %d\n", reconcileUpdated.Load())

	fmt.Fprintf(w, "# HELP renalink_reconcile_prescriptions_deleted_total Prescriptions retracted from medical files on delete.\n")
	fmt.Fprintf(w, "# TYPE renalink_reconcile_prescriptions_deleted_total counter\n")
	fmt.Fprintf(w, "renalink_reconcile_prescriptions_deleted_total %d\n", reconcileDeleted.Load())

	fmt.Fprintf(w, "# HELP renalink_reconcile_rejected_total Prescription requests rejected by validation.\n")
	fmt.Fprintf(w, "# TYPE renalink_reconcile_rejected_total counter\n")
	fmt.Fprintf(w, "renalink_reconcile_rejected_total %d\n", reconcileRejected.Load())

	fmt.Fprintf(w, "# HELP renalink_safety_gate_declined_total Destructive chart operations declined by the safety gate.\n")
	fmt.Fprintf(w, "# TYPE renalink_safety_gate_declined_total counter\n")
	fmt.Fprintf(w, "renalink_safety_gate_declined_total %d\n", gateDeclined.Load())

	fmt.Fprintf(w, "# HELP renalink_chart_cache_hits_total Medical-file reads served from the Redis cache.\n")
	fmt.Fprintf(w, "# TYPE renalink_chart_cache_hits_total counter\n")
	fmt.Fprintf(w, "renalink_chart_cache_hits_total %d\n", chartCacheHits.Load())

	fmt.Fprintf(w, "# HELP renalink_chart_cache_misses_total Medical-file reads that fell through to Postgres.\n")
	fmt.Fprintf(w, "# TYPE renalink_chart_cache_misses_total counter\n")
	fmt.Fprintf(w, "renalink_chart_cache_misses_total %d\n", chartCacheMisses.Load())

	fmt.Fprintf(w, "# HELP renalink_audit_rows_appended_total Audit rows appended by the chart audit consumer.\n")
	fmt.Fprintf(w, "# TYPE renalink_audit_rows_appended_total counter\n")
	fmt.Fprintf(w, "renalink_audit_rows_appended_total %d\n", auditRowsAppended.Load())
}

func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WritePrometheus(w)
	}
}
