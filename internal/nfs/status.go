package nfs

// NFSv4 status codes this server produces (RFC5661 §15), by the names
// spec.md's operation table uses.
const (
	statusOK              = 0
	nfs4errNoent          = 2
	nfs4errAcces          = 13
	nfs4errNotdir         = 20
	nfs4errRofs           = 30
	nfs4errStale          = 70
	nfs4errWrongType      = 10083
	nfs4errSeqMisordered  = 10063
	nfs4errBadsession     = 10052
	nfs4errStaleClientid  = 10022
	nfs4errOpIllegal      = 10044
	nfs4errNotsupp        = 10004
	nfs4errBadxdr         = 10036
)

// RFC5661 §13.1 opcode numbers for every operation named in spec.md.
const (
	opAccess           = 3
	opClose            = 4
	opCommit           = 5
	opCreate           = 6
	opGetattr          = 9
	opGetfh            = 10
	opLock             = 12
	opLockt            = 13
	opLocku            = 14
	opLookup           = 15
	opLookupp          = 16
	opNverify          = 17
	opOpen             = 18
	opOpenDowngrade    = 21
	opPutfh            = 22
	opPutpubfh         = 23
	opPutrootfh        = 24
	opRead             = 25
	opReaddir          = 26
	opReadlink         = 27
	opRemove           = 28
	opRename           = 29
	opRestorefh        = 31
	opSavefh           = 32
	opSecinfo          = 33
	opSetattr          = 34
	opVerify           = 35
	opWrite            = 38
	opBackchannelCtl   = 40
	opBindConnToSess   = 41
	opExchangeID       = 42
	opCreateSession    = 43
	opDestroySession   = 44
	opFreeStateid      = 45
	opLayoutcommit     = 48
	opSecinfoNoName    = 52
	opSequence         = 53
	opSetSSV           = 54
	opTestStateid      = 55
	opDestroyClientid  = 57
	opReclaimComplete  = 58
	opIllegal          = 10044
)
