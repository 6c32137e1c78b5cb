package comm

import (
	"fmt"
	"sort"
)

// envelope carries everything one rank posted to another in one round
type envelope[T any] struct {
	source int
	msgs   []T
}

// MailBox moves messages between NP ranks. The pattern is: every rank
// posts, delivers, waits on a barrier, then receives. Post and Deliver touch
// only the caller's own queues.
type MailBox[T any] struct {
	NP           int
	MessageChans []chan envelope[T] // One for each rank
	PostMsgQs    []map[int][]T      // One for each rank, key is target rank
	ReceiveMsgQs [][]T              // One for each rank
	ReceiveFrom  [][]int            // Source rank of each received message
	MailFlag     []bool             // Rank has messages in its outbox
}

func NewMailBox[T any](NP int) *MailBox[T] {
	mb := &MailBox[T]{
		NP:           NP,
		MessageChans: make([]chan envelope[T], NP),
		PostMsgQs:    make([]map[int][]T, NP),
		ReceiveMsgQs: make([][]T, NP),
		ReceiveFrom:  make([][]int, NP),
		MailFlag:     make([]bool, NP),
	}
	for n := 0; n < NP; n++ {
		mb.MessageChans[n] = make(chan envelope[T], NP) // Worst case is all-to-all
		mb.PostMsgQs[n] = make(map[int][]T)
	}
	return mb
}

func (mb *MailBox[T]) PostMessage(myRank, targetRank int, msg T) {
	if targetRank < 0 || targetRank > mb.NP-1 {
		panic(fmt.Sprintf("Target rank %d out of bounds", targetRank))
	}
	mb.PostMsgQs[myRank][targetRank] = append(mb.PostMsgQs[myRank][targetRank], msg)
	mb.MailFlag[myRank] = true
}

func (mb *MailBox[T]) PostMessageToAll(myRank int, msg T) {
	for k := 0; k < mb.NP; k++ {
		if k != myRank {
			mb.PostMessage(myRank, k, msg)
		}
	}
}

func (mb *MailBox[T]) DeliverMyMessages(myRank int) {
	if !mb.MailFlag[myRank] {
		return
	}
	for targetRank, msgs := range mb.PostMsgQs[myRank] {
		if len(msgs) == 0 {
			continue
		}
		mb.MessageChans[targetRank] <- envelope[T]{source: myRank, msgs: msgs}
	}
	clear(mb.PostMsgQs[myRank])
	mb.MailFlag[myRank] = false
}

// ReceiveMyMessages drains the rank's channel and orders the queue by source
// rank, keeping send order within one source.
func (mb *MailBox[T]) ReceiveMyMessages(myRank int) {
	var envs []envelope[T]
	for done := false; !done; {
		select {
		case env := <-mb.MessageChans[myRank]:
			envs = append(envs, env)
		default:
			done = true
		}
	}
	sort.SliceStable(envs, func(i, j int) bool { return envs[i].source < envs[j].source })
	for _, env := range envs {
		for _, msg := range env.msgs {
			mb.ReceiveMsgQs[myRank] = append(mb.ReceiveMsgQs[myRank], msg)
			mb.ReceiveFrom[myRank] = append(mb.ReceiveFrom[myRank], env.source)
		}
	}
}

func (mb *MailBox[T]) ClearMyMessages(myRank int) {
	mb.ReceiveMsgQs[myRank] = nil
	mb.ReceiveFrom[myRank] = nil
}
