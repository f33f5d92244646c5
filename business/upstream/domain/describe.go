package domain

// ChainStatus is an externally reported status for one chain.
// Quorum is carried for router collaborators and never interpreted here.
type ChainStatus struct {
	Chain        Chain
	Availability int32
	Quorum       int32
}

// DescribeChain is the capability description a remote node returns for one chain.
type DescribeChain struct {
	Chain            Chain
	SupportedTargets []string
	Status           *ChainStatus
}
