package constant

type SegmentState string

const (
	SegmentStateOpen             SegmentState = "OPEN"
	SegmentStateClosedUnverified SegmentState = "CLOSED_UNVERIFIED"
	SegmentStateClosedVerified   SegmentState = "CLOSED_VERIFIED"
	SegmentStateExpired          SegmentState = "EXPIRED"
)

type HealthState string

const (
	HealthStateHealthy  HealthState = "HEALTHY"
	HealthStateDegraded HealthState = "DEGRADED"
	HealthStateOffline  HealthState = "OFFLINE"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}

// On-disk markers for the segment lifecycle. A segment becomes visible under
// its final name only through an atomic rename from the .part temp name.
const (
	ContainerExt        = ".mkv"
	PartSuffix          = ".part"
	VerifiedSuffix      = ".v"
	PendingDeleteSuffix = ".pending-delete"
)
