package internaldefs

import (
	"github.com/MrEthical07/phiguard"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   phiguard.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram.
type HistogramDef struct {
	ID   phiguard.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "phiguard_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

var CounterDefs = []CounterDef{
	{ID: phiguard.MetricSessionCreated, Name: "phiguard_session_created_total", Help: "Created sessions."},
	{ID: phiguard.MetricSessionEvicted, Name: "phiguard_session_evicted_total", Help: "Sessions evicted by the per-user concurrency limit."},
	{ID: phiguard.MetricSessionValidated, Name: "phiguard_session_validated_total", Help: "Successful session validations."},
	{ID: phiguard.MetricSessionInvalid, Name: "phiguard_session_invalid_total", Help: "Session validations that found no valid session."},
	{ID: phiguard.MetricSessionIdleExpired, Name: "phiguard_session_idle_expired_total", Help: "Sessions deactivated by idle timeout."},
	{ID: phiguard.MetricSessionHardExpired, Name: "phiguard_session_hard_expired_total", Help: "Sessions deactivated at their hard expiry."},
	{ID: phiguard.MetricSessionTerminated, Name: "phiguard_session_terminated_total", Help: "Sessions logged out individually."},
	{ID: phiguard.MetricSessionTerminatedAll, Name: "phiguard_session_terminated_all_total", Help: "Terminate-all operations."},
	{ID: phiguard.MetricSessionExtended, Name: "phiguard_session_extended_total", Help: "Session extensions."},
	{ID: phiguard.MetricAccessGranted, Name: "phiguard_access_granted_total", Help: "Access checks that granted access."},
	{ID: phiguard.MetricAccessDenied, Name: "phiguard_access_denied_total", Help: "Access checks that denied access."},
	{ID: phiguard.MetricAccessError, Name: "phiguard_access_error_total", Help: "Access checks denied because the policy repository failed."},
	{ID: phiguard.MetricEmergencyAccess, Name: "phiguard_emergency_access_total", Help: "Grants made under declared emergency access."},
	{ID: phiguard.MetricPHIEncrypt, Name: "phiguard_phi_encrypt_total", Help: "PHI values encrypted."},
	{ID: phiguard.MetricPHIDecrypt, Name: "phiguard_phi_decrypt_total", Help: "PHI values decrypted."},
	{ID: phiguard.MetricPHIDecryptFailure, Name: "phiguard_phi_decrypt_failure_total", Help: "PHI decryptions rejected for format, key version or integrity."},
	{ID: phiguard.MetricTokenIssued, Name: "phiguard_session_token_issued_total", Help: "Session tokens issued."},
	{ID: phiguard.MetricTokenRejected, Name: "phiguard_session_token_rejected_total", Help: "Session tokens rejected."},
}

var HistogramDefs = []HistogramDef{
	{ID: phiguard.MetricValidateLatency, Name: "phiguard_session_validate_latency_seconds", Help: "Session validation latency."},
	{ID: phiguard.MetricAccessCheckLatency, Name: "phiguard_access_check_latency_seconds", Help: "Access check latency."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds; the eighth
// bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
