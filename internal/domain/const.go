package domain

const (
	// ZeroAddress is the EVM zero address
	ZeroAddress = "0x0000000000000000000000000000000000000000"

	// BasisPointsDivisor converts basis points to a fraction
	BasisPointsDivisor = 10000

	// DaysPerYear is the day-count convention for interest accrual
	DaysPerYear = 365
)
