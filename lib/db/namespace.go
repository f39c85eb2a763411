package db

// NamespaceVersion is bumped whenever namespaces are added or removed.
// Engines with a persistent schema record it next to their data.
const NamespaceVersion = 3

// Namespace is a logical partition of a store, comparable to a table.
// Every namespace has its own independent keyspace.
type Namespace string

const (
	NsMeta            Namespace = "META"
	NsStats           Namespace = "STATS"
	NsEventLog        Namespace = "EVENTLOG_EVENTS"
	NsAuditQueue      Namespace = "AUDIT_QUEUE"
	NsAuditEvents     Namespace = "AUDIT_EVENTS"
	NsUserEvents      Namespace = "USER_EVENTS"
	NsEmailQueue      Namespace = "EMAIL_QUEUE"
	NsSmsQueue        Namespace = "SMS_QUEUE"
	NsSyslogQueue     Namespace = "SYSLOG_QUEUE"
	NsResponseStorage Namespace = "RESPONSE_STORAGE"
	NsOtpSecret       Namespace = "OTP_SECRET"
	NsTokens          Namespace = "TOKENS"
	NsIntruder        Namespace = "INTRUDER"
	NsSpeedHistory    Namespace = "SPEED_HISTORY"
	NsWordlistMeta    Namespace = "WORDLIST_META"
	NsWordlistWords   Namespace = "WORDLIST_WORDS"
	NsSeedlistMeta    Namespace = "SEEDLIST_META"
	NsSeedlistWords   Namespace = "SEEDLIST_WORDS"
	NsSharedHistMeta  Namespace = "SHAREDHISTORY_META"
	NsSharedHistWords Namespace = "SHAREDHISTORY_WORDS"
	NsReportQueue     Namespace = "REPORT_QUEUE"
	NsCache           Namespace = "CACHE"
	NsTemp            Namespace = "TEMP"
)

var allNamespaces = []Namespace{
	NsMeta, NsStats, NsEventLog,
	NsAuditQueue, NsAuditEvents, NsUserEvents,
	NsEmailQueue, NsSmsQueue, NsSyslogQueue,
	NsResponseStorage, NsOtpSecret, NsTokens, NsIntruder, NsSpeedHistory,
	NsWordlistMeta, NsWordlistWords, NsSeedlistMeta, NsSeedlistWords,
	NsSharedHistMeta, NsSharedHistWords,
	NsReportQueue, NsCache, NsTemp,
}

var namespaceSet = func() map[Namespace]struct{} {
	m := make(map[Namespace]struct{}, len(allNamespaces))
	for _, ns := range allNamespaces {
		m[ns] = struct{}{}
	}
	return m
}()

// Namespaces returns all known namespaces in a stable order
func Namespaces() []Namespace {
	out := make([]Namespace, len(allNamespaces))
	copy(out, allNamespaces)
	return out
}

// Valid reports whether ns is part of the enumeration
func (ns Namespace) Valid() bool {
	_, ok := namespaceSet[ns]
	return ok
}

func (ns Namespace) String() string {
	return string(ns)
}
