// Package convergence holds the closed-form gossip models used to size the
// dissemination window and the urgency budget of the information vector.
//
// All formulas use the logistic approximation of push-pull epidemic spread,
// I(t) = n / (1 + (n-1)e^-t), with t measured in gossip rounds.
package convergence
