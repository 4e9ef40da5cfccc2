package sandbox

// Network access is blocked by default. When a request allows
// network, the sandbox still must deny link-local addresses —
// 169.254.0.0/16 and fe80::/10 — to prevent cloud-metadata-service
// exfiltration. Each backend enforces this at the mechanism it
// actually has (a Seatbelt deny clause, an nft drop rule inside the
// sandbox's own network namespace, or — on the rlimit fallback, which has no
// network isolation primitive at all — documented as an explicit gap
// in Result, never silently ignored.
//
// blockedNetworkCIDRs names the ranges a network-enabled sandbox must
// still deny.
var blockedNetworkCIDRs = []string{
	"169.254.0.0/16",
	"fe80::/10",
}
