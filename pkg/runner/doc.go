/*
Package runner drives a run to completion with a human (or a policy) in the loop.

The Runner starts or resumes a run through the engine. Whenever the run
suspends, it asks a Policy first and then a Reviewer for a state patch, and
resumes with it. A Reviewer that returns io.EOF stops the loop; the run stays
suspended and durable, ready for a later resume.

# Key Components

  - Runner: the review loop.
  - Reviewer: decouples how suspensions are presented (TextReviewer, JSONReviewer).
  - Policy: decides suspensions without asking (AutoResume, StaticPatch).

# Usage

	r := runner.NewRunner(engine,
		runner.WithRunID("thread-1"),
		runner.WithInitialState(domain.State{"door_open": false}),
		runner.WithReviewer(runner.NewTextReviewer(os.Stdin, os.Stdout)),
	)

	res, err := r.Run(ctx)
	if err != nil {
		log.Fatal(err)
	}
*/
package runner
